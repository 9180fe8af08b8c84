// Package storage archives task results in Azure Blob Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"go.uber.org/zap"
)

// BlobStorageClient stores result payloads too large to publish inline
type BlobStorageClient interface {
	UploadResult(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error)
	DownloadResult(ctx context.Context, blobURL string) ([]byte, error)
}

// azurite is the well-known local development account.
var azurite = blobAccount{
	name:       "devstoreaccount1",
	key:        "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==",
	serviceURL: "http://127.0.0.1:10000/devstoreaccount1",
}

// blobAccount is the part of a connection string the client needs.
type blobAccount struct {
	name       string
	key        string
	serviceURL string
}

// parseAccount resolves a connection string into an account. The blob
// endpoint is derived from protocol and suffix unless BlobEndpoint is set.
func parseAccount(connectionString string) (blobAccount, error) {
	params := parseConnectionString(connectionString)
	if strings.EqualFold(params["UseDevelopmentStorage"], "true") {
		return azurite, nil
	}

	account := blobAccount{
		name:       params["AccountName"],
		key:        params["AccountKey"],
		serviceURL: params["BlobEndpoint"],
	}
	if account.name == "" || account.key == "" {
		return blobAccount{}, errors.New("account name and key are required in the connection string")
	}
	if account.serviceURL == "" {
		account.serviceURL = fmt.Sprintf("%s://%s.blob.%s",
			valueOr(params["DefaultEndpointsProtocol"], "https"),
			account.name,
			valueOr(params["EndpointSuffix"], "core.windows.net"))
	}
	account.serviceURL = strings.TrimRight(account.serviceURL, "/")
	return account, nil
}

func (b blobAccount) insecure() bool {
	return strings.HasPrefix(strings.ToLower(b.serviceURL), "http://")
}

func parseConnectionString(connectionString string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(connectionString, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && key != "" {
			params[key] = value
		}
	}
	return params
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// AzureBlobClient implements BlobStorageClient against a single container.
// Plain http endpoints are allowed so local Azurite instances work.
type AzureBlobClient struct {
	container     *container.Client
	serviceURL    string
	containerName string
	logger        *zap.Logger

	// ready is set once the container is known to exist; failures are retried.
	readyMu sync.Mutex
	ready   bool
}

// NewAzureBlobClient creates a client from a standard connection string.
// "UseDevelopmentStorage=true" targets a local Azurite.
func NewAzureBlobClient(connectionString, containerName string, logger *zap.Logger) (*AzureBlobClient, error) {
	if connectionString == "" {
		return nil, errors.New("connection string is required")
	}
	if containerName == "" {
		return nil, errors.New("container name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	account, err := parseAccount(connectionString)
	if err != nil {
		return nil, err
	}

	credential, err := azblob.NewSharedKeyCredential(account.name, account.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	opts := &azblob.ClientOptions{}
	if account.insecure() {
		opts.ClientOptions = azcore.ClientOptions{InsecureAllowCredentialWithHTTP: true}
	}
	service, err := azblob.NewClientWithSharedKeyCredential(account.serviceURL, credential, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &AzureBlobClient{
		container:     service.ServiceClient().NewContainerClient(containerName),
		serviceURL:    account.serviceURL,
		containerName: containerName,
		logger:        logger.With(zap.String("container", containerName)),
	}, nil
}

// UploadResult writes data as a JSON block blob and returns its URL.
func (a *AzureBlobClient) UploadResult(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error) {
	if err := a.ensureContainer(ctx); err != nil {
		return "", err
	}

	tags := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		tags[k] = to.Ptr(v)
	}

	target := a.container.NewBlockBlobClient(blobPath)
	if _, err := target.UploadBuffer(ctx, data, &azblob.UploadBufferOptions{
		Metadata:    tags,
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr("application/json")},
	}); err != nil {
		a.logger.Error("Failed to upload result blob",
			zap.String("blob_path", blobPath),
			zap.Int("size_bytes", len(data)),
			zap.Error(err))
		return "", fmt.Errorf("blob upload failed: %w", err)
	}

	a.logger.Info("Uploaded result blob",
		zap.String("blob_path", blobPath),
		zap.Int("size_bytes", len(data)))
	return target.URL(), nil
}

// DownloadResult reads a blob given its URL or its path inside the container.
func (a *AzureBlobClient) DownloadResult(ctx context.Context, reference string) ([]byte, error) {
	blobPath, err := a.extractBlobPath(reference)
	if err != nil {
		return nil, err
	}

	resp, err := a.container.NewBlobClient(blobPath).DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("result blob %q not found: %w", blobPath, err)
		}
		return nil, fmt.Errorf("failed to download blob: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob data: %w", err)
	}
	return data, nil
}

func (a *AzureBlobClient) servicePath() string {
	u, err := url.Parse(a.serviceURL)
	if err != nil {
		return ""
	}
	return strings.TrimRight(u.EscapedPath(), "/")
}

func (a *AzureBlobClient) ensureContainer(ctx context.Context) error {
	a.readyMu.Lock()
	defer a.readyMu.Unlock()

	if a.ready {
		return nil
	}
	if _, err := a.container.Create(ctx, nil); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("failed to ensure container: %w", err)
	}
	a.ready = true
	return nil
}

// extractBlobPath accepts a full blob URL, a container-prefixed path or a bare
// path, percent-encoded or not, and returns the path inside the container.
func (a *AzureBlobClient) extractBlobPath(reference string) (string, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return "", errors.New("blob reference is required")
	}

	if u, err := url.Parse(ref); err == nil {
		ref = u.EscapedPath()
		if u.Host != "" {
			// Azurite endpoints carry the account name in the path
			ref = strings.TrimPrefix(ref, a.servicePath())
		}
	}
	if decoded, err := url.PathUnescape(ref); err == nil {
		ref = decoded
	}

	ref = strings.TrimPrefix(ref, "/")
	ref = strings.TrimPrefix(ref, a.containerName+"/")
	if ref == "" {
		return "", errors.New("blob path is empty")
	}
	return ref, nil
}
