// Package fingerprint computes structural fingerprints of record
// content.
//
// The fingerprint is a hash of the content's syntax skeleton: named
// syntax-tree nodes with leaf token text, no comments, no whitespace,
// no formatting. Two payloads with equal fingerprints are certainly
// equivalent and never need an oracle call. Unequal fingerprints prove
// nothing: semantically equal code can still differ structurally, so
// non-equivalence is never declared here.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// DefaultMaxContentSize bounds the payload a single fingerprint call
// will accept.
const DefaultMaxContentSize = 2 * 1024 * 1024

// ParseError reports content this detector cannot fingerprint. The
// record is not dropped: it is routed to the oracle unconditionally.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("fingerprint parse error: %s", e.Reason)
}

// Option configures a Detector.
type Option func(*Detector)

// WithMaxContentSize caps the accepted payload size in bytes.
func WithMaxContentSize(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.maxContentSize = n
		}
	}
}

// Detector fingerprints Python payloads.
//
// Detector instances are safe for concurrent use: each Fingerprint
// call creates its own tree-sitter parser.
type Detector struct {
	maxContentSize int
}

// New creates a Detector with the given options.
func New(opts ...Option) *Detector {
	d := &Detector{maxContentSize: DefaultMaxContentSize}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fingerprint computes the structural fingerprint of content.
//
// It fails with *ParseError for empty content, content that is not
// valid UTF-8, oversized content, or content whose parse tree contains
// syntax errors. Any other failure is an infrastructure error.
func (d *Detector) Fingerprint(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", &ParseError{Reason: "empty content"}
	}
	if len(content) > d.maxContentSize {
		return "", &ParseError{Reason: fmt.Sprintf("content size %d exceeds limit %d", len(content), d.maxContentSize)}
	}
	if !utf8.ValidString(content) {
		return "", &ParseError{Reason: "content is not valid UTF-8"}
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, []byte(content))
	if err != nil {
		return "", fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return "", &ParseError{Reason: "parser returned no syntax tree"}
	}
	if root.HasError() {
		return "", &ParseError{Reason: "content contains syntax errors"}
	}

	src := []byte(content)
	var skeleton strings.Builder
	writeSkeleton(&skeleton, root, src)

	sum := sha256.Sum256([]byte(skeleton.String()))
	return hex.EncodeToString(sum[:]), nil
}

// writeSkeleton emits the S-expression of named nodes. Comments are
// skipped entirely; leaf tokens contribute their text, so identifiers
// and literals still matter but layout and commentary do not.
func writeSkeleton(b *strings.Builder, node *sitter.Node, src []byte) {
	if node.Type() == "comment" {
		return
	}

	b.WriteByte('(')
	b.WriteString(node.Type())
	if node.NamedChildCount() == 0 {
		b.WriteByte(':')
		b.WriteString(node.Content(src))
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		writeSkeleton(b, node.NamedChild(i), src)
	}
	b.WriteByte(')')
}
