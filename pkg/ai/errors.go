package ai

import "errors"

var errEmptyEmbedding = errors.New("embeddings endpoint returned no data")
