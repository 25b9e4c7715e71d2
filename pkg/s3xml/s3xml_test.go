package s3xml

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeError(t *testing.T) {
	doc := string(EncodeError("NoSuchBucket", "The specified bucket does not exist", "/bucket1"))
	assert.Contains(t, doc, "<Code>NoSuchBucket</Code>")
	assert.Contains(t, doc, "<Message>The specified bucket does not exist</Message>")
	assert.Contains(t, doc, "<Resource>/bucket1</Resource>")
}

func TestEncodeListBucketResult(t *testing.T) {
	doc := string(EncodeListBucketResult(ListBucketResultParams{
		Name:        "bucket1",
		Prefix:      "",
		MaxKeys:     1000,
		IsTruncated: true,
		Contents: []Contents{
			{Key: "a.txt", LastModified: "2024-01-01T00:00:00.000000Z", ETag: `"abc"`, Size: 2, StorageClass: "STANDARD"},
		},
		NextContinuationToken: "a.txt",
	}))

	assert.Contains(t, doc, `xmlns="http://s3.amazonaws.com/doc/2006-03-01/"`)
	assert.Contains(t, doc, "<Name>bucket1</Name>")
	assert.Contains(t, doc, "<IsTruncated>true</IsTruncated>")
	assert.Contains(t, doc, "<Key>a.txt</Key>")
	assert.Contains(t, doc, "<NextContinuationToken>a.txt</NextContinuationToken>")
}

func TestParseCompleteMultipartUpload_WithNamespace(t *testing.T) {
	body := `<?xml version="1.0" encoding="UTF-8"?>
<CompleteMultipartUpload xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Part><PartNumber>1</PartNumber><ETag>"e1"</ETag></Part>
  <Part><PartNumber>2</PartNumber><ETag>"e2"</ETag></Part>
</CompleteMultipartUpload>`

	parts, err := ParseCompleteMultipartUpload(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, CompletedPart{PartNumber: 1, ETag: "e1"}, parts[0])
	assert.Equal(t, CompletedPart{PartNumber: 2, ETag: "e2"}, parts[1])
}

func TestParseCompleteMultipartUpload_WithoutNamespace(t *testing.T) {
	body := `<CompleteMultipartUpload><Part><PartNumber>1</PartNumber><ETag>e1</ETag></Part></CompleteMultipartUpload>`

	parts, err := ParseCompleteMultipartUpload(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, 1, parts[0].PartNumber)
	assert.Equal(t, "e1", parts[0].ETag)
}

func TestParseCompleteMultipartUpload_Malformed(t *testing.T) {
	_, err := ParseCompleteMultipartUpload(strings.NewReader("not xml at all <<<"))
	assert.ErrorIs(t, err, ErrMalformedBody)

	_, err = ParseCompleteMultipartUpload(strings.NewReader(`<SomethingElse/>`))
	assert.ErrorIs(t, err, ErrMalformedBody)
}
