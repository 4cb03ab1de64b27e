package objectstore

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/text/unicode/norm"

	"github.com/orbitalfiles/orbital/internal/vfs"
)

// groupListing turns one level of a delimited listing into directory
// entries. Keys deeper than one level collapse into their first segment,
// so listings made without a delimiter group the same way. Directories
// are reported once, in first-seen order, and the marker object for the
// listed prefix itself is skipped.
func groupListing(prefix string, objects []types.Object, commonPrefixes []string) []vfs.File {
	var (
		files []vfs.File
		seen  = make(map[string]bool)
	)

	addDir := func(name string) {
		if name == "" || seen[name] {
			return
		}

		seen[name] = true
		files = append(files, vfs.File{
			ID:       vfs.DirectoryID(prefix + name),
			Name:     norm.NFC.String(name),
			Metadata: &vfs.Metadata{MimeType: vfs.Ptr(vfs.MimeTypeDirectory)},
		})
	}

	for _, obj := range objects {
		key := aws.ToString(obj.Key)

		rel, ok := strings.CutPrefix(key, prefix)
		if !ok || rel == "" {
			continue
		}

		if dir, _, nested := strings.Cut(rel, delimiter); nested {
			addDir(dir)
			continue
		}

		md := &vfs.Metadata{ModifiedAt: obj.LastModified}
		if obj.Size != nil {
			md.Size = vfs.Ptr(uint64(max(*obj.Size, 0)))
		}

		files = append(files, vfs.File{
			ID:       vfs.PlainFile(key),
			Name:     norm.NFC.String(rel),
			Metadata: md,
		})
	}

	for _, cp := range commonPrefixes {
		rel, ok := strings.CutPrefix(cp, prefix)
		if !ok {
			continue
		}

		addDir(strings.TrimSuffix(rel, delimiter))
	}

	return files
}
