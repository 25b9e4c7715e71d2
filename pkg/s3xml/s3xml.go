// Package s3xml encodes the S3 result documents this server returns and
// decodes the one request body it must parse: CompleteMultipartUpload.
package s3xml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// Namespace is the S3 XML namespace every success document declares.
const Namespace = "http://s3.amazonaws.com/doc/2006-03-01/"

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// ErrorDocument is the shape of every S3 error response.
type ErrorDocument struct {
	XMLName  xml.Name `xml:"Error"`
	Code     string   `xml:"Code"`
	Message  string   `xml:"Message"`
	Resource string   `xml:"Resource"`
}

// EncodeError renders an <Error> document.
func EncodeError(code, message, resource string) []byte {
	return encode(ErrorDocument{Code: code, Message: message, Resource: resource})
}

// LocationConstraint is the GetBucketLocation response body. This
// server reports only the implicit us-east-1 region, so the element is
// always empty.
type LocationConstraint struct {
	XMLName xml.Name `xml:"LocationConstraint"`
	Xmlns   string   `xml:"xmlns,attr"`
}

// EncodeLocationConstraint renders the (always-empty) location document.
func EncodeLocationConstraint() []byte {
	return encode(LocationConstraint{Xmlns: Namespace})
}

// InitiateMultipartUploadResult is the InitiateMultipartUpload response body.
type InitiateMultipartUploadResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	Xmlns    string   `xml:"xmlns,attr"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadID string   `xml:"UploadId"`
}

// EncodeInitiateMultipartUpload renders the InitiateMultipartUpload response.
func EncodeInitiateMultipartUpload(bucket, key, uploadID string) []byte {
	return encode(InitiateMultipartUploadResult{
		Xmlns:    Namespace,
		Bucket:   bucket,
		Key:      key,
		UploadID: uploadID,
	})
}

// CompleteMultipartUploadResult is the CompleteMultipartUpload response body.
type CompleteMultipartUploadResult struct {
	XMLName  xml.Name `xml:"CompleteMultipartUploadResult"`
	Xmlns    string   `xml:"xmlns,attr"`
	Location string   `xml:"Location"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	ETag     string   `xml:"ETag"`
}

// EncodeCompleteMultipartUpload renders the CompleteMultipartUpload response.
func EncodeCompleteMultipartUpload(location, bucket, key, etag string) []byte {
	return encode(CompleteMultipartUploadResult{
		Xmlns:    Namespace,
		Location: location,
		Bucket:   bucket,
		Key:      key,
		ETag:     etag,
	})
}

// Contents is one object entry inside a ListBucketResult.
type Contents struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

// ListBucketResult is the ListObjectsV2 response body.
type ListBucketResult struct {
	XMLName                xml.Name   `xml:"ListBucketResult"`
	Xmlns                  string     `xml:"xmlns,attr"`
	Name                   string     `xml:"Name"`
	Prefix                 string     `xml:"Prefix"`
	MaxKeys                int        `xml:"MaxKeys"`
	IsTruncated            bool       `xml:"IsTruncated"`
	Contents               []Contents `xml:"Contents"`
	NextContinuationToken  string     `xml:"NextContinuationToken,omitempty"`
	ContinuationToken      string     `xml:"ContinuationToken,omitempty"`
}

// ListBucketResultParams carries the fields needed to render a
// ListObjectsV2 response without exposing the internal Contents type to
// callers that only have raw object rows.
type ListBucketResultParams struct {
	Name                  string
	Prefix                string
	MaxKeys               int
	IsTruncated           bool
	NextContinuationToken string
	ContinuationToken     string
	Contents              []Contents
}

// EncodeListBucketResult renders the ListObjectsV2 response.
func EncodeListBucketResult(p ListBucketResultParams) []byte {
	return encode(ListBucketResult{
		Xmlns:                 Namespace,
		Name:                  p.Name,
		Prefix:                p.Prefix,
		MaxKeys:               p.MaxKeys,
		IsTruncated:           p.IsTruncated,
		Contents:              p.Contents,
		NextContinuationToken: p.NextContinuationToken,
		ContinuationToken:     p.ContinuationToken,
	})
}

func encode(v any) []byte {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	enc := xml.NewEncoder(&buf)
	// Best-effort: these documents are built from closed, hand-written
	// structs, so Encode cannot fail in practice.
	_ = enc.Encode(v)
	return buf.Bytes()
}

// ErrMalformedBody is returned when the CompleteMultipartUpload request
// body is not well-formed XML or is missing its root element.
var ErrMalformedBody = errors.New("s3xml: malformed request body")

// CompletedPart is one <Part> entry from a CompleteMultipartUpload
// request body, with its ETag's surrounding quotes already stripped.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

type completeMultipartUploadPart struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

type completeMultipartUploadRequest struct {
	Parts []completeMultipartUploadPart `xml:"Part"`
}

// ParseCompleteMultipartUpload parses a CompleteMultipartUpload request
// body. The root element's namespace is read first and then discarded:
// Go's decoder matches elements by local name regardless of namespace,
// which is exactly what's needed since the client may or may not
// declare the S3 namespace on the root element.
func ParseCompleteMultipartUpload(body io.Reader) ([]CompletedPart, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, ErrMalformedBody
	}

	dec := xml.NewDecoder(bytes.NewReader(raw))
	var rootSeen bool
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if se, ok := tok.(xml.StartElement); ok {
			if se.Name.Local != "CompleteMultipartUpload" {
				return nil, ErrMalformedBody
			}
			rootSeen = true
			break
		}
	}
	if !rootSeen {
		return nil, ErrMalformedBody
	}

	var req completeMultipartUploadRequest
	if err := xml.Unmarshal(raw, &req); err != nil {
		return nil, ErrMalformedBody
	}

	parts := make([]CompletedPart, 0, len(req.Parts))
	for _, p := range req.Parts {
		parts = append(parts, CompletedPart{
			PartNumber: p.PartNumber,
			ETag:       strings.Trim(p.ETag, `"`),
		})
	}
	return parts, nil
}
