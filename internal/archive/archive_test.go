package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum(t *testing.T) {
	a := Checksum([]byte("statement bytes"))
	b := Checksum([]byte("statement bytes"))
	c := Checksum([]byte("other bytes"))

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestObjectName(t *testing.T) {
	checksum := Checksum([]byte("x"))

	name := objectName(checksum, "may_2025.xlsx")
	assert.Equal(t, "statements/"+checksum[:16]+"/may_2025.xlsx", name)

	// Directory components in the filename are stripped.
	name = objectName(checksum, "/tmp/uploads/may_2025.xlsx")
	assert.Equal(t, "statements/"+checksum[:16]+"/may_2025.xlsx", name)
}

func TestSplitURI(t *testing.T) {
	bucket, object, err := splitURI("gs://my-bucket/statements/abc/may.xlsx")
	assert.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "statements/abc/may.xlsx", object)

	for _, uri := range []string{"http://my-bucket/x", "gs://only-bucket", "gs:///no-bucket"} {
		_, _, err := splitURI(uri)
		assert.Error(t, err, uri)
	}
}

func TestFilenameFromURI(t *testing.T) {
	assert.Equal(t, "may.xlsx", FilenameFromURI("gs://b/statements/abc/may.xlsx"))
	assert.Equal(t, "plain.xlsx", FilenameFromURI("plain.xlsx"))
}
