// Package embedding turns entity text into fixed-dimension vectors for the
// vector index. Vectors are L2-normalized and rounded to a fixed precision
// so identical inputs always produce bit-identical stored vectors.
package embedding

import (
	"context"
	"log"
	"sync"

	"github.com/scrypster/retina/internal/config"
)

// backend is the encoding transport. Both paths accept a batch and return
// one vector per input in order.
type backend interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Service generates embeddings on either the local or the remote path. The
// path is chosen once from configuration at first use and never changes for
// the lifetime of the process.
type Service struct {
	cfg config.EmbeddingConfig

	initOnce sync.Once
	backend  backend
}

// NewService creates a generator for the configured path. No connection is
// made until the first Encode call.
func NewService(cfg config.EmbeddingConfig) *Service {
	return &Service{cfg: cfg}
}

// Encode returns one normalized, rounded vector per input text. Encoding is
// best-effort: any backend failure is logged and reported as an empty batch
// with a nil error, so enrichment never blocks on an unavailable model.
func (s *Service) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	s.initOnce.Do(func() {
		if s.cfg.UseLocal {
			device := selectDevice()
			log.Printf("embedding: using local model %s on %s", s.cfg.Model, device)
			s.backend = newLocalBackend(s.cfg.Model, device)
		} else {
			log.Printf("embedding: using remote service at %s", s.cfg.Endpoint)
			s.backend = newRemoteBackend(s.cfg.Endpoint, s.cfg.Model, s.cfg.Token)
		}
	})

	vectors, err := s.backend.Embed(ctx, texts)
	if err != nil {
		log.Printf("embedding: encode failed, continuing without vectors: %v", err)
		return [][]float32{}, nil
	}

	for i, v := range vectors {
		if len(v) != s.cfg.NumDim {
			log.Printf("embedding: backend returned %d dims, expected %d", len(v), s.cfg.NumDim)
		}
		vectors[i] = Round(Normalize(v))
	}

	return vectors, nil
}

// Dimensions reports the configured vector size.
func (s *Service) Dimensions() int {
	return s.cfg.NumDim
}
