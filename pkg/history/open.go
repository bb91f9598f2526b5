package history

import (
	"context"
	"path/filepath"

	"github.com/matzehuels/lockstep/pkg/config"
	"github.com/matzehuels/lockstep/pkg/errors"
)

// Open returns the recorder cfg selects. Relative file paths are resolved
// against root.
func Open(ctx context.Context, cfg config.HistoryConfig, root string) (Recorder, error) {
	switch cfg.Backend {
	case config.HistoryNone, "":
		return NopRecorder{}, nil
	case config.HistoryFile:
		path := cfg.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		return NewFileRecorder(path)
	case config.HistoryMongo:
		return NewMongoRecorder(ctx, cfg.MongoURI, cfg.Database)
	default:
		return nil, errors.New(errors.ErrCodeInvalidConfig, "unknown history backend %q", cfg.Backend)
	}
}
