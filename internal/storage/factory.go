package storage

import (
	"context"
	"fmt"
	"os"

	"lamina/internal/adapters/storage/gdrive"
	"lamina/internal/adapters/storage/localfs"
	s3adapter "lamina/internal/adapters/storage/s3"
	"lamina/internal/util"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// NewProvider builds the storage provider selected by STORAGE_PROVIDER
// (localfs, s3 or gdrive). Both binaries use this so the API and the workers
// always resolve object keys against the same backend.
func NewProvider() (Provider, error) {
	provider := os.Getenv("STORAGE_PROVIDER")
	if provider == "" {
		provider = "localfs"
	}

	switch provider {
	case "localfs":
		root := util.MustEnv("STORAGE_LOCAL_ROOT")
		return localfs.New(root), nil

	case "s3":
		return s3adapter.New(s3adapter.Config{
			Endpoint:     os.Getenv("S3_ENDPOINT"),
			Region:       os.Getenv("S3_REGION"),
			Bucket:       util.MustEnv("S3_BUCKET"),
			AccessKey:    util.MustEnv("S3_ACCESS_KEY"),
			SecretKey:    util.MustEnv("S3_SECRET_KEY"),
			UsePathStyle: util.BoolEnv("S3_USE_PATH_STYLE", true),
		})

	case "gdrive":
		return newGDriveProvider()

	default:
		return nil, fmt.Errorf("unknown storage provider: %s", provider)
	}
}

func newGDriveProvider() (Provider, error) {
	ctx := context.Background()

	clientID := util.MustEnv("GDRIVE_CLIENT_ID")
	clientSecret := util.MustEnv("GDRIVE_CLIENT_SECRET")
	refreshToken := util.MustEnv("GDRIVE_REFRESH_TOKEN")
	folderID := os.Getenv("GDRIVE_FOLDER_ID")

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}

	tok := &oauth2.Token{RefreshToken: refreshToken}
	httpClient := conf.Client(ctx, tok)

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}

	return gdrive.NewClient(srv, folderID), nil
}
