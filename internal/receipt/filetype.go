package receipt

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// allowedTypes maps accepted content types to the extensions a file name may carry
var allowedTypes = map[string][]string{
	"application/pdf": {".pdf"},
	"image/jpeg":      {".jpg", ".jpeg"},
	"image/png":       {".png"},
}

// FileType is the validated type of an uploaded receipt
type FileType struct {
	ContentType string
	Ext         string
}

// ValidateUpload sniffs data and accepts PDF, JPEG and PNG files. The extension
// of filename is kept when it agrees with the detected type; otherwise the
// detected type's canonical extension is used.
func ValidateUpload(data []byte, filename string) (FileType, error) {
	if len(data) == 0 {
		return FileType{}, newError(KindValidation, nil, "empty file")
	}

	detected := mimetype.Detect(data)
	for contentType, exts := range allowedTypes {
		if !detected.Is(contentType) {
			continue
		}
		ext := strings.ToLower(filepath.Ext(filename))
		for _, allowed := range exts {
			if ext == allowed {
				return FileType{ContentType: contentType, Ext: ext}, nil
			}
		}
		return FileType{ContentType: contentType, Ext: exts[0]}, nil
	}
	return FileType{}, newError(KindValidation, nil,
		"unsupported file type %s, expected PDF, JPG or PNG", detected.String())
}

// ContentTypeForPath guesses the content type of a stored file from its extension
func ContentTypeForPath(p string) string {
	ext := strings.ToLower(filepath.Ext(p))
	for contentType, exts := range allowedTypes {
		for _, allowed := range exts {
			if ext == allowed {
				return contentType
			}
		}
	}
	return "application/octet-stream"
}
