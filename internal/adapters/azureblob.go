package adapters

import (
	"context"
	"encoding/base64"
	goerrors "errors"
	"fmt"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	inleterrors "github.com/inletworks/inlet/internal/errors"
	"github.com/inletworks/inlet/internal/models"
	"github.com/inletworks/inlet/internal/pattern"
)

// AzureBlobAdapter lists blobs in an Azure Storage container.
type AzureBlobAdapter struct {
	settings models.AzureBlobSettings
	client   *azblob.Client
}

// NewAzureBlobAdapter builds an adapter for the configured auth mode. secret
// holds the resolved connection string or SAS token; it is unused for
// managed identity.
func NewAzureBlobAdapter(settings models.AzureBlobSettings, secret string) (*AzureBlobAdapter, error) {
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", settings.StorageAccountName)

	var (
		client *azblob.Client
		err    error
	)
	switch settings.AuthType {
	case models.AzureBlobAuthConnectionString:
		client, err = azblob.NewClientFromConnectionString(secret, nil)
	case models.AzureBlobAuthSasToken:
		client, err = azblob.NewClientWithNoCredential(serviceURL+"?"+strings.TrimPrefix(secret, "?"), nil)
	case models.AzureBlobAuthManagedIdentity, "":
		var cred *azidentity.DefaultAzureCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err == nil {
			client, err = azblob.NewClient(serviceURL, cred, nil)
		}
	default:
		return nil, inleterrors.New(inleterrors.CategoryConfigurationError, "build_adapter",
			fmt.Errorf("unknown azure auth type %q", settings.AuthType))
	}
	if err != nil {
		return nil, inleterrors.New(inleterrors.CategoryAuthenticationFailure, "build_adapter", err)
	}
	return &AzureBlobAdapter{settings: settings, client: client}, nil
}

// Protocol implements Adapter.
func (a *AzureBlobAdapter) Protocol() models.Protocol {
	return models.ProtocolAzureBlob
}

// TestConnection lists a single page of blobs to prove the container is
// reachable with the configured credentials.
func (a *AzureBlobAdapter) TestConnection(ctx context.Context) error {
	one := int32(1)
	pager := a.client.NewListBlobsFlatPager(a.settings.ContainerName, &azblob.ListBlobsFlatOptions{
		MaxResults: &one,
	})
	if _, err := pager.NextPage(ctx); err != nil {
		return classifyAzureError("test_connection", err)
	}
	return nil
}

// List implements Adapter. Blobs are enumerated under the configured prefix
// joined with resolvedPath; filename filters apply to the blob's base name.
func (a *AzureBlobAdapter) List(ctx context.Context, resolvedPath, filenamePattern, extension string) ([]FileMetadata, error) {
	prefix := CombinePrefix(a.settings.BlobPrefix, resolvedPath)

	opts := &azblob.ListBlobsFlatOptions{}
	if prefix != "" {
		opts.Prefix = &prefix
	}

	var files []FileMetadata
	pager := a.client.NewListBlobsFlatPager(a.settings.ContainerName, opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classifyAzureError("list", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			name := path.Base(*item.Name)
			if !pattern.Match(name, filenamePattern) || !pattern.MatchExtension(name, extension) {
				continue
			}

			meta := FileMetadata{
				URL: fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s",
					a.settings.StorageAccountName, a.settings.ContainerName, *item.Name),
				Filename:         name,
				ProtocolMetadata: map[string]string{"blobName": *item.Name},
			}
			if props := item.Properties; props != nil {
				if props.ContentLength != nil {
					meta.Size = int64Ptr(*props.ContentLength)
				}
				if props.LastModified != nil {
					meta.LastModified = timePtr(props.LastModified.UTC())
				}
				if props.ETag != nil {
					meta.ProtocolMetadata["etag"] = string(*props.ETag)
				}
				if props.ContentType != nil {
					meta.ProtocolMetadata["contentType"] = *props.ContentType
				}
				if len(props.ContentMD5) > 0 {
					meta.ProtocolMetadata["contentMd5"] = base64.StdEncoding.EncodeToString(props.ContentMD5)
				}
			}
			files = append(files, meta)
		}
	}
	return files, nil
}

// CombinePrefix joins the configured blob prefix and a resolved path with a
// single slash, trimming slashes on both sides of the seam.
func CombinePrefix(blobPrefix, resolvedPath string) string {
	left := strings.Trim(blobPrefix, "/")
	right := strings.Trim(resolvedPath, "/")
	switch {
	case left == "":
		return right
	case right == "":
		return left
	default:
		return left + "/" + right
	}
}

func classifyAzureError(op string, err error) error {
	var respErr *azcore.ResponseError
	if goerrors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == 401 || respErr.StatusCode == 403:
			return inleterrors.New(inleterrors.CategoryAuthenticationFailure, op, err).WithStatusCode(respErr.StatusCode)
		case respErr.StatusCode >= 500 || respErr.StatusCode == 429 || respErr.StatusCode == 408:
			return inleterrors.New(inleterrors.CategoryProtocolError, op, err).WithStatusCode(respErr.StatusCode)
		default:
			e := inleterrors.New(inleterrors.CategoryProtocolError, op, err)
			e.StatusCode = respErr.StatusCode
			e.Retryable = false
			return e
		}
	}

	category := inleterrors.Classify(err)
	if category == inleterrors.CategoryUnknown {
		category = inleterrors.CategoryProtocolError
	}
	return inleterrors.New(category, op, err)
}
