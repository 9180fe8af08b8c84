package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ResultsPath returns the blob path holding a task's encoded results.
func ResultsPath(taskID string) string {
	return fmt.Sprintf("tasks/%s/results.json", taskID)
}

// Archive offloads task results to blob storage.
type Archive struct {
	blobClient BlobStorageClient
	logger     *zap.Logger
}

// NewArchive creates an archive on top of a blob client.
func NewArchive(blobClient BlobStorageClient, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{blobClient: blobClient, logger: logger}
}

// StoreResults uploads the encoded results of taskID and returns the blob URL.
func (a *Archive) StoreResults(ctx context.Context, taskID string, results []byte, count int) (string, error) {
	if a.blobClient == nil {
		return "", errors.New("blob client not initialized")
	}
	if taskID == "" {
		return "", errors.New("task id is required")
	}

	path := ResultsPath(taskID)
	blobURL, err := a.blobClient.UploadResult(ctx, path, results, map[string]string{
		"task_id":      taskID,
		"result_count": strconv.Itoa(count),
		"archived_at":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive results: %w", err)
	}

	a.logger.Debug("Archived task results",
		zap.String("task_id", taskID),
		zap.String("blob_path", path),
		zap.Int("size_bytes", len(results)))
	return blobURL, nil
}

// LoadResults downloads results previously stored by StoreResults.
func (a *Archive) LoadResults(ctx context.Context, reference string) ([]byte, error) {
	if a.blobClient == nil {
		return nil, errors.New("blob client not initialized")
	}
	data, err := a.blobClient.DownloadResult(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}
	return data, nil
}
