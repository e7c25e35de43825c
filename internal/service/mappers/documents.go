package mappers

import (
	"github.com/google/uuid"

	"github.com/formahead/docproc/internal/store/model"
)

// DocumentUploadForm carries a validated upload into the service layer.
type DocumentUploadForm struct {
	OwnerID     string
	Filename    string
	ContentType string
	Content     []byte
}

func (f DocumentUploadForm) ToDocument(id uuid.UUID, location string) model.Document {
	return model.Document{
		ID:          id,
		OwnerID:     f.OwnerID,
		Filename:    f.Filename,
		ContentType: f.ContentType,
		Location:    location,
		ByteSize:    int64(len(f.Content)),
		Status:      model.DocumentStatusPending,
		Kind:        model.DocumentKindUnknown,
	}
}
