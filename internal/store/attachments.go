package store

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/guppy/internal/message"
	"github.com/nextlevelbuilder/guppy/internal/threadid"
)

// AttachmentResult is what LoadAttachments hands back to the actor: images
// ready to go straight into a vision-capable prompt, and file paths for
// everything else.
type AttachmentResult struct {
	Images    []ImageRef
	FilePaths []string
}

// ImageRef is a base64-encoded image with its detected (not adapter-
// reported) MIME type.
type ImageRef struct {
	MimeType string
	Data     string
}

// sanitizeFilename replaces any byte outside [A-Za-z0-9._-] with '_'.
func sanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '_', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

func attachmentFileName(ts int64, filename string) string {
	return strconv.FormatInt(ts, 10) + "_" + sanitizeFilename(filename)
}

// relativeToChannelDir turns an attachment's file name (already timestamped
// and sanitized) into the path recorded in a LogEntry's Attachment.Local
// field: relative to the channel directory, which is the root from which
// log.jsonl readers resolve paths.
func relativeToChannelDir(m threadid.Meta, attachmentFile string) string {
	return filepath.Join(threadid.Encode(m.ThreadKey), "attachments", attachmentFile)
}

// DownloadAttachment fetches url and writes it to
// thread/attachments/<now>_<sanitized filename>, returning the path
// relative to the channel directory (the same shape stored in LogEntry).
func (s *Store) DownloadAttachment(m threadid.Meta, url, filename string) (string, error) {
	name := attachmentFileName(s.now().UnixMilli(), filename)
	if err := s.downloadNamedAttachment(m, url, name); err != nil {
		return "", err
	}
	return relativeToChannelDir(m, name), nil
}

// downloadNamedAttachment writes url's body to
// thread/attachments/<attachmentFile>, where attachmentFile has already
// been decided (so it can match a Local path recorded earlier in a
// LogEntry, as LogMessage does).
func (s *Store) downloadNamedAttachment(m threadid.Meta, url, attachmentFile string) error {
	if err := os.MkdirAll(s.attachmentsDir(m), 0o755); err != nil {
		return fmt.Errorf("store: ensure attachments dir: %w", err)
	}
	absPath := filepath.Join(s.attachmentsDir(m), attachmentFile)
	if err := s.downloadToFile(url, absPath); err != nil {
		return err
	}
	s.maybeThumbnail(absPath)
	return nil
}

func (s *Store) downloadToFile(url, absPath string) error {
	resp, err := s.http.Get(url)
	if err != nil {
		return fmt.Errorf("store: fetch attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("store: fetch attachment: status %d", resp.StatusCode)
	}

	f, err := os.Create(absPath)
	if err != nil {
		return fmt.Errorf("store: create attachment file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("store: write attachment file: %w", err)
	}
	return nil
}

// maybeThumbnail decodes image attachments with the imaging package and
// writes a small preview alongside the original, for the optional inspect
// front-end. Best-effort: any failure (unsupported format, corrupt data,
// non-image file) is logged and otherwise ignored.
func (s *Store) maybeThumbnail(absPath string) {
	mime, ok := detectImageMime(absPath)
	if !ok {
		return
	}
	img, err := imaging.Open(absPath)
	if err != nil {
		slog.Debug("store: thumbnail decode skipped", "path", absPath, "mime", mime, "error", err)
		return
	}
	thumb := imaging.Thumbnail(img, 256, 256, imaging.Lanczos)
	thumbPath := filepath.Join(filepath.Dir(absPath), "thumb_"+filepath.Base(absPath)+".png")
	if err := imaging.Save(thumb, thumbPath); err != nil {
		slog.Debug("store: thumbnail save skipped", "path", absPath, "error", err)
	}
}

// detectImageMime reads the first few bytes of the file at path and
// returns the image MIME type if the magic bytes match PNG, JPEG, GIF, or
// WEBP. The adapter-reported MIME is never trusted for this decision.
func detectImageMime(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	head := make([]byte, 16)
	n, _ := io.ReadFull(f, head)
	return detectImageMimeBytes(head[:n])
}

func detectImageMimeBytes(head []byte) (string, bool) {
	switch {
	case len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png", true
	case len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF:
		return "image/jpeg", true
	case len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a"))):
		return "image/gif", true
	case len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP")):
		return "image/webp", true
	default:
		return "", false
	}
}

// LoadAttachments locates the most recent log entry for messageID (scanning
// log.jsonl from tail to head) and resolves each of its attachments: image
// files whose magic bytes identify them as PNG/JPEG/GIF/WEBP are returned
// inline as base64; everything else is returned as an absolute file path.
func (s *Store) LoadAttachments(m threadid.Meta, messageID string) (AttachmentResult, error) {
	entry, found, err := s.findLogEntry(m, messageID)
	if err != nil {
		return AttachmentResult{}, err
	}
	if !found {
		return AttachmentResult{}, nil
	}

	var result AttachmentResult
	for _, a := range entry.Attachments {
		absPath := filepath.Join(s.ChannelDir(m), a.Local)
		if mime, ok := detectImageMime(absPath); ok {
			data, err := os.ReadFile(absPath)
			if err != nil {
				slog.Warn("store: failed to read attachment", "path", absPath, "error", err)
				continue
			}
			result.Images = append(result.Images, ImageRef{
				MimeType: mime,
				Data:     base64.StdEncoding.EncodeToString(data),
			})
			continue
		}
		result.FilePaths = append(result.FilePaths, absPath)
	}
	return result, nil
}

// findLogEntry scans log.jsonl from tail to head for the most recent entry
// whose MessageID matches.
func (s *Store) findLogEntry(m threadid.Meta, messageID string) (message.LogEntry, bool, error) {
	entries, err := s.readAllLogEntries(m)
	if err != nil {
		return message.LogEntry{}, false, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].MessageID == messageID {
			return entries[i], true, nil
		}
	}
	return message.LogEntry{}, false, nil
}
