// Package storage はブリーフィング音声ファイルの保存先を提供する。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const audioContentType = "audio/mpeg"

// BlobStore は音声データを保存し、参照用のURLを返すインターフェース。
type BlobStore interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// AudioObjectName はブリーフィングIDから音声ファイル名を返す。
func AudioObjectName(briefingID string) string {
	return briefingID + ".mp3"
}

// LocalStore はローカルディレクトリに保存するBlobStore。
// 保存したファイルは /storage/{name} で配信される前提のURLを返す。
type LocalStore struct {
	dir       string
	urlPrefix string
}

var _ BlobStore = (*LocalStore)(nil)

// NewLocalStore はLocalStoreを生成する。
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir, urlPrefix: "/storage/"}
}

// Dir は保存先ディレクトリを返す。
func (s *LocalStore) Dir() string { return s.dir }

// Put はdataを {dir}/{name} に書き込む。
func (s *LocalStore) Put(_ context.Context, name string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("保存先ディレクトリの作成に失敗しました: %w", err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("音声ファイルの書き込みに失敗しました: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("音声ファイルの書き込みに失敗しました: %w", err)
	}
	return s.urlPrefix + name, nil
}

// S3Config はS3互換ストレージの設定。
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	// PublicURL は返却するURLのベース。空の場合はエンドポイントとバケットから組み立てる。
	PublicURL string
}

// S3Store はS3互換ストレージに保存するBlobStore。
type S3Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

var _ BlobStore = (*S3Store)(nil)

// NewS3Store はS3Storeを生成する。
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("S3のエンドポイントとバケットは必須です")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("S3クライアントの生成に失敗しました: %w", err)
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}
	return &S3Store{client: client, bucket: cfg.Bucket, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

// Put はdataをバケットの {name} に保存する。
func (s *S3Store) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	_, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: audioContentType,
	})
	if err != nil {
		return "", fmt.Errorf("音声ファイルのアップロードに失敗しました: %w", err)
	}
	return s.publicURL + "/" + name, nil
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("不正なファイル名です: %q", name)
	}
	return nil
}
