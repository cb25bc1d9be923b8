package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/projection"
)

type ObjectBlobConfig struct {
	Connect Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log     *slog.Logger // Log for diagnostics (optional)
	Bucket  string
}

// ObjectBlobAccessor keeps offloaded snapshots in a JetStream object store.
type ObjectBlobAccessor struct {
	obs     jetstream.ObjectStore
	closeNc closeFunc
	log     *slog.Logger
	bucket  string
}

func NewObjectBlobAccessor(ctx context.Context, cfg ObjectBlobConfig) (*ObjectBlobAccessor, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	obs, err := js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:  cfg.Bucket,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("failed to ensure object store %q: %w", cfg.Bucket, err)
	}

	return &ObjectBlobAccessor{
		obs:     obs,
		closeNc: closeNc,
		log:     log.With(slog.String("blob", "nats_object"), slog.String("bucket", cfg.Bucket)),
		bucket:  cfg.Bucket,
	}, nil
}

func (o *ObjectBlobAccessor) Close() { o.closeNc() }

func (o *ObjectBlobAccessor) ProviderName() string { return "nats:" + o.bucket }

func (o *ObjectBlobAccessor) Write(ctx context.Context, data []byte, keyHint string) (string, error) {
	key := keyHint + "-" + gonanoid.Must(8)
	info, err := o.obs.PutBytes(ctx, key, data)
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}
	o.log.Debug("stored", slog.String("key", key), slog.Uint64("size", info.Size))
	return key, nil
}

func (o *ObjectBlobAccessor) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := o.obs.GetBytes(ctx, key)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil, dcb.Errorf(dcb.KindNotFound, "read_blob", "object %q", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	return data, nil
}

// Delete removes an offloaded snapshot that is no longer referenced.
func (o *ObjectBlobAccessor) Delete(ctx context.Context, key string) error {
	err := o.obs.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

var _ projection.BlobAccessor = (*ObjectBlobAccessor)(nil)
