package storage

import "context"

// ExportUploader defines the interface for uploading report exports
// This interface allows for easy mocking in tests
type ExportUploader interface {
	UploadExport(ctx context.Context, data []byte, userID, taskID, format string) (*UploadResult, error)
}

// Ensure S3Uploader implements ExportUploader
var _ ExportUploader = (*S3Uploader)(nil)
