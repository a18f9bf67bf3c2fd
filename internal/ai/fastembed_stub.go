//go:build !fastembed

package ai

import (
	"context"
	"errors"
)

var errNoFastEmbed = errors.New("fastembed support not included; rebuild with -tags fastembed")

type FastEmbedClient struct{}

func NewFastEmbedClient(*ClientConfig) (*FastEmbedClient, error) {
	return nil, errNoFastEmbed
}

func (FastEmbedClient) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, errNoFastEmbed
}

func (FastEmbedClient) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, errNoFastEmbed
}

func (FastEmbedClient) Dim() int { return 0 }

func (FastEmbedClient) Close() error { return nil }
