package llmclient

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
)

// embeddingDims is small enough to keep the vector store's cosine-similarity
// scan cheap, per pkg/shared/math's linear scan approach.
const embeddingDims = 64

// HashEmbedder implements vectorstore.Embedder with a deterministic
// feature-hashed bag-of-words vector instead of a real embedding model:
// neither Anthropic nor the langchaingo providers wired into this package
// expose an embeddings endpoint the way they expose chat completion, and
// no other example repo in the pack carries an embeddings client. Search
// quality is strictly worse than a learned embedding, but it keeps
// vectorstore.Store's cosine-similarity ranking exercised end-to-end
// without inventing a dependency that was never grounded in the corpus.
type HashEmbedder struct{}

func NewHashEmbedder() HashEmbedder {
	return HashEmbedder{}
}

// Embed implements vectorstore.Embedder.
func (HashEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, apperrors.NewValidationError("cannot embed empty text")
	}

	vec := make([]float64, embeddingDims)
	for _, word := range tokenize(text) {
		sum := sha256.Sum256([]byte(word))
		bucket := binary.BigEndian.Uint32(sum[:4]) % embeddingDims
		sign := 1.0
		if sum[4]%2 == 1 {
			sign = -1.0
		}
		vec[bucket] += sign
	}
	return vec, nil
}

func tokenize(text string) []string {
	var words []string
	start := -1
	for i, r := range text {
		isWord := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		switch {
		case isWord && start == -1:
			start = i
		case !isWord && start != -1:
			words = append(words, text[start:i])
			start = -1
		}
	}
	if start != -1 {
		words = append(words, text[start:])
	}
	return words
}
