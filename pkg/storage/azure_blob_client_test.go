package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewAzureBlobClient(t *testing.T) {
	tests := []struct {
		name             string
		connectionString string
		containerName    string
		errContains      string
		wantURL          string
	}{
		{
			name:          "empty connection string",
			containerName: "results",
			errContains:   "connection string is required",
		},
		{
			name:             "empty container name",
			connectionString: "DefaultEndpointsProtocol=https;AccountName=test;AccountKey=dGVzdA==;EndpointSuffix=core.windows.net",
			errContains:      "container name is required",
		},
		{
			name:             "missing account key",
			connectionString: "AccountName=test",
			containerName:    "results",
			errContains:      "account name and key are required",
		},
		{
			name:             "account endpoint",
			connectionString: "DefaultEndpointsProtocol=https;AccountName=test;AccountKey=dGVzdA==;EndpointSuffix=core.windows.net",
			containerName:    "results",
			wantURL:          "https://test.blob.core.windows.net",
		},
		{
			name:             "azurite",
			connectionString: "UseDevelopmentStorage=true",
			containerName:    "results",
			wantURL:          "http://127.0.0.1:10000/devstoreaccount1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewAzureBlobClient(tt.connectionString, tt.containerName, nil)

			if tt.errContains != "" {
				require.Error(t, err)
				assert.Nil(t, client)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, client.serviceURL)
		})
	}
}

func TestParseConnectionString(t *testing.T) {
	params := parseConnectionString("AccountName=test; AccountKey=a2V5PT0=;;BlobEndpoint=http://localhost:10000/test")

	assert.Equal(t, "test", params["AccountName"])
	assert.Equal(t, "a2V5PT0=", params["AccountKey"])
	assert.Equal(t, "http://localhost:10000/test", params["BlobEndpoint"])
	assert.Len(t, params, 3)
}

func TestParseAccount(t *testing.T) {
	account, err := parseAccount("AccountName=test;AccountKey=dGVzdA==;BlobEndpoint=http://localhost:10000/test/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:10000/test", account.serviceURL)
	assert.True(t, account.insecure())

	account, err = parseAccount("DefaultEndpointsProtocol=https;AccountName=test;AccountKey=dGVzdA==;EndpointSuffix=core.chinacloudapi.cn")
	require.NoError(t, err)
	assert.Equal(t, "https://test.blob.core.chinacloudapi.cn", account.serviceURL)
	assert.False(t, account.insecure())

	_, err = parseAccount("usedevelopmentstorage=TRUE")
	assert.Error(t, err, "keys are case sensitive")

	account, err = parseAccount("UseDevelopmentStorage=TRUE")
	require.NoError(t, err)
	assert.Equal(t, azurite, account)
}

func TestExtractBlobPath(t *testing.T) {
	client, err := NewAzureBlobClient("UseDevelopmentStorage=true", "results", zap.NewNop())
	require.NoError(t, err)

	tests := map[string]string{
		"http://127.0.0.1:10000/devstoreaccount1/results/tasks/abc/results.json?sig=x": "tasks/abc/results.json",
		"results/tasks/abc/results.json":                                               "tasks/abc/results.json",
		"tasks/abc%2Fresults.json":                                                     "tasks/abc/results.json",
		"https://other.blob.core.windows.net/results/tasks/abc/results.json":           "tasks/abc/results.json",
	}
	for ref, want := range tests {
		got, err := client.extractBlobPath(ref)
		require.NoError(t, err, ref)
		assert.Equal(t, want, got, ref)
	}

	_, err = client.extractBlobPath("  ")
	assert.Error(t, err)
}

// memoryBlobs is an in-memory BlobStorageClient.
type memoryBlobs struct {
	blobs    map[string][]byte
	metadata map[string]map[string]string
	fail     error
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{blobs: map[string][]byte{}, metadata: map[string]map[string]string{}}
}

func (m *memoryBlobs) UploadResult(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error) {
	if m.fail != nil {
		return "", m.fail
	}
	m.blobs[blobPath] = data
	m.metadata[blobPath] = metadata
	return "memory://" + blobPath, nil
}

func (m *memoryBlobs) DownloadResult(ctx context.Context, ref string) ([]byte, error) {
	data, ok := m.blobs[ref]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return data, nil
}

func TestArchive_StoreAndLoad(t *testing.T) {
	blobs := newMemoryBlobs()
	archive := NewArchive(blobs, nil)

	url, err := archive.StoreResults(context.Background(), "task-1", []byte(`[1,2]`), 2)
	require.NoError(t, err)
	assert.Equal(t, "memory://tasks/task-1/results.json", url)
	assert.Equal(t, "2", blobs.metadata[ResultsPath("task-1")]["result_count"])

	data, err := archive.LoadResults(context.Background(), ResultsPath("task-1"))
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(data))

	_, err = archive.StoreResults(context.Background(), "", nil, 0)
	assert.Error(t, err)

	blobs.fail = errors.New("403")
	_, err = archive.StoreResults(context.Background(), "task-2", nil, 0)
	assert.ErrorContains(t, err, "failed to archive results")

	_, err = NewArchive(nil, nil).LoadResults(context.Background(), "x")
	assert.Error(t, err)
}
