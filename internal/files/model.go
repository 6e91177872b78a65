package files

import "time"

// File is the immutable metadata row for an uploaded attachment. The
// binary content lives in external blob storage under StorageKey and is
// retrievable at URL.
type File struct {
	ID         string    `gorm:"column:id;primaryKey;size:190;not null"`
	RoomID     string    `gorm:"column:room_id;size:190;not null;index"`
	TaskID     string    `gorm:"column:task_id;size:190;not null;default:'';index"`
	FileName   string    `gorm:"column:file_name;size:320;not null"`
	URL        string    `gorm:"column:url;size:1024;not null"`
	StorageKey string    `gorm:"column:storage_key;size:512;not null"`
	MimeType   string    `gorm:"column:mime_type;size:190;not null"`
	Size       int64     `gorm:"column:size;not null"`
	UploadedBy string    `gorm:"column:uploaded_by;size:190;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (File) TableName() string {
	return "files"
}

// View is the wire representation of an uploaded file.
type View struct {
	ID         string    `json:"_id"`
	RoomID     string    `json:"roomId"`
	TaskID     string    `json:"taskId,omitempty"`
	FileName   string    `json:"fileName"`
	URL        string    `json:"url"`
	StorageKey string    `json:"storageKey"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	UploadedBy string    `json:"uploadedBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (f File) view() View {
	return View{
		ID:         f.ID,
		RoomID:     f.RoomID,
		TaskID:     f.TaskID,
		FileName:   f.FileName,
		URL:        f.URL,
		StorageKey: f.StorageKey,
		MimeType:   f.MimeType,
		Size:       f.Size,
		UploadedBy: f.UploadedBy,
		CreatedAt:  f.CreatedAt,
	}
}
