// Package export mirrors directory entries into an LDIF-style document, one
// block per DN, blocks separated by a blank line. The document is a
// convenience artifact; the directory itself stays the system of record.
package export

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/gatekeeper/internal/server/directory"
)

var (
	ErrEntryExists  = errors.New("export entry already exists")
	ErrNoSuchEntry  = errors.New("export entry not found")
	ErrInvalidValue = errors.New("export value contains a line break")
)

// Sink stores the export document somewhere. Remove drops the block whose
// dn and mail both match entry, so a block is only ever removed by the
// identity that wrote it.
type Sink interface {
	Append(ctx context.Context, entry directory.Entry) error
	Remove(ctx context.Context, entry directory.Entry) error
}

// Block renders entry, including the terminating blank line. Values that
// would start a new line are refused.
func Block(entry directory.Entry) (string, error) {
	for _, v := range []string{entry.DN, entry.Name, entry.Email, entry.Password} {
		if strings.ContainsAny(v, "\r\n") {
			return "", ErrInvalidValue
		}
	}

	var b strings.Builder
	line := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteByte('\n')
	}

	line("dn", entry.DN)
	for _, oc := range directory.ObjectClasses {
		line("objectClass", oc)
	}
	line("cn", entry.Name)
	line("sn", entry.Name)
	line("mail", entry.Email)
	line("userPassword", entry.Password)
	b.WriteByte('\n')
	return b.String(), nil
}

// AppendEntry returns doc with a block for entry added at the end.
func AppendEntry(doc []byte, entry directory.Entry) ([]byte, error) {
	rendered, err := Block(entry)
	if err != nil {
		return nil, err
	}
	for _, blk := range splitBlocks(doc) {
		if strings.EqualFold(blk.dn(), entry.DN) {
			return nil, ErrEntryExists
		}
	}

	out := bytes.TrimRight(doc, "\n")
	if len(out) > 0 {
		out = append(out, '\n', '\n')
	}
	return append(out, rendered...), nil
}

// RemoveEntry returns doc without the block whose dn and mail lines match
// entry. A block with the same dn but another mail belongs to a different
// identity and is kept.
func RemoveEntry(doc []byte, entry directory.Entry) ([]byte, error) {
	var (
		out   bytes.Buffer
		found bool
	)
	for _, blk := range splitBlocks(doc) {
		if !found && strings.EqualFold(blk.dn(), entry.DN) && strings.EqualFold(blk.attr("mail"), entry.Email) {
			found = true
			continue
		}
		out.WriteString(strings.Join(blk, "\n"))
		out.WriteString("\n\n")
	}
	if !found {
		return nil, ErrNoSuchEntry
	}
	return out.Bytes(), nil
}

// dns lists the DN of every block in doc, in order.
func dns(doc []byte) []string {
	var dns []string
	for _, blk := range splitBlocks(doc) {
		if dn := blk.dn(); dn != "" {
			dns = append(dns, dn)
		}
	}
	return dns
}

type block []string

func (b block) dn() string { return b.attr("dn") }

// attr returns the first value of name in b.
func (b block) attr(name string) string {
	for _, l := range b {
		if v, ok := strings.CutPrefix(l, name+":"); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func splitBlocks(doc []byte) []block {
	var (
		blocks []block
		cur    block
	)
	for _, l := range strings.Split(strings.ReplaceAll(string(doc), "\r\n", "\n"), "\n") {
		if strings.TrimSpace(l) == "" {
			if len(cur) > 0 {
				blocks = append(blocks, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, l)
	}
	if len(cur) > 0 {
		blocks = append(blocks, cur)
	}
	return blocks
}
