// Package htmlmedia rewrites the images embedded in model card rich text: inline uploads are moved
// to the object store on write and turned back into presigned or data URIs on read and export.
package htmlmedia

import (
	"bytes"
	"context"
	"encoding/base64"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/modelzoo/modelzoo/internal/storage"
)

// PresignTTL is how long presigned image links stay valid.
const PresignTTL = time.Hour

// UploadGracePeriod is how long an uploaded image is kept even when no card refers to it yet.
// Images are stored before the card that embeds them is written.
const UploadGracePeriod = 10 * time.Minute

// UploadedAt returns the upload time encoded in the (UUIDv7) name of an image stored by
// PreparePost. Names that carry no time report false.
func UploadedAt(key string) (time.Time, bool) {
	id, err := uuid.Parse(strings.TrimSuffix(path.Base(key), path.Ext(key)))
	if err != nil || id.Version() != 7 {
		return time.Time{}, false
	}
	var ms int64
	for _, b := range id[:6] {
		ms = ms<<8 | int64(b)
	}
	return time.UnixMilli(ms).UTC(), true
}

var preferredExt = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
	"image/bmp":     ".bmp",
}

// Processor rewrites image sources against one object store.
type Processor struct {
	store   storage.ObjectStore
	apiHost string
	policy  *bluemonday.Policy
}

// New returns a Processor. apiHost is the public object store address that presigned URLs are
// issued for; sources under it are turned back into s3:// locations on write.
func New(store storage.ObjectStore, apiHost string) *Processor {
	return &Processor{
		store:   store,
		apiHost: strings.TrimSuffix(apiHost, "/"),
		policy:  newPolicy(),
	}
}

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowURLSchemes("s3", "http", "https", "mailto")
	p.AllowDataURIImages()
	p.AllowAttrs("class").Globally()
	p.AllowDataAttributes()
	p.AllowStyling()
	p.AllowElements("chart")
	p.AllowAttrs("src", "width", "height", "frameborder", "allowfullscreen").OnElements("iframe", "embed")
	p.AllowAttrs("type").OnElements("embed")
	p.RequireNoFollowOnLinks(true)
	return p
}

// Sanitize strips everything but the allowed rich text markup.
func (p *Processor) Sanitize(doc string) string {
	return p.policy.Sanitize(doc)
}

// PreparePost uploads inline data: images, turns presigned links back into s3:// locations, and
// sanitizes the result.
func (p *Processor) PreparePost(ctx context.Context, doc string) (string, error) {
	out, err := rewriteImages(doc, func(src string) (string, error) {
		switch {
		case strings.HasPrefix(src, "data:image"):
			return p.uploadDataURI(ctx, src)
		case p.apiHost != "" && strings.HasPrefix(src, p.apiHost):
			return p.presignedToURI(src), nil
		default:
			return src, nil
		}
	})
	if err != nil {
		return "", err
	}
	return p.Sanitize(out), nil
}

func (p *Processor) uploadDataURI(ctx context.Context, src string) (string, error) {
	contentType, data, err := decodeDataURI(src)
	if err != nil {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.Wrap(err, "naming inline image")
	}
	key := storage.ImagesPrefix + id.String() + extensionFor(contentType)
	if err := p.store.Put(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return "", errors.Wrap(err, "uploading inline image")
	}
	return storage.URI(p.store.Bucket(), key), nil
}

// presignedToURI maps <apiHost>/<bucket>/<key>?<signature> back to s3://<bucket>/<key>.
func (p *Processor) presignedToURI(src string) string {
	rest := strings.Trim(strings.TrimPrefix(src, p.apiHost), "/")
	rest, _, _ = strings.Cut(rest, "?")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		return src
	}
	return storage.URI(bucket, key)
}

// PresignImages replaces s3:// image sources with presigned URLs. Images that cannot be signed
// keep their source; the combined error is returned for logging alongside the rewritten document.
func (p *Processor) PresignImages(doc string) (string, error) {
	var errs *multierror.Error
	out, err := rewriteImages(doc, func(src string) (string, error) {
		if !storage.IsURI(src) {
			return src, nil
		}
		url, err := p.PresignURI(src)
		if err != nil {
			errs = multierror.Append(errs, err)
			return src, nil
		}
		return url, nil
	})
	if err != nil {
		return doc, err
	}
	return out, errs.ErrorOrNil()
}

// PresignURI presigns an s3:// location in the server's bucket.
func (p *Processor) PresignURI(uri string) (string, error) {
	_, key, err := storage.ParseURI(uri)
	if err != nil {
		return "", err
	}
	return p.store.PresignGet(key, PresignTTL)
}

// InlineImages replaces s3:// image sources with base64 data URIs and sanitizes the result.
func (p *Processor) InlineImages(ctx context.Context, doc string) (string, error) {
	out, err := rewriteImages(doc, func(src string) (string, error) {
		if !storage.IsURI(src) {
			return src, nil
		}
		_, key, err := storage.ParseURI(src)
		if err != nil {
			return "", err
		}
		data, contentType, err := p.store.Get(ctx, key)
		if err != nil {
			return "", errors.Wrapf(err, "fetching image %s", src)
		}
		if guessed := mime.TypeByExtension(path.Ext(key)); guessed != "" {
			contentType = guessed
		}
		return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
	})
	if err != nil {
		return "", err
	}
	return p.Sanitize(out), nil
}

// ImageReferences returns the s3:// image sources in doc.
func ImageReferences(doc string) ([]string, error) {
	var refs []string
	_, err := rewriteImages(doc, func(src string) (string, error) {
		if storage.IsURI(src) {
			refs = append(refs, src)
		}
		return src, nil
	})
	return refs, err
}

func decodeDataURI(src string) (string, []byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(src, "data:"), ",")
	if !ok {
		return "", nil, errors.New("malformed data URI")
	}
	contentType, _, _ := strings.Cut(header, ";")
	if !strings.HasSuffix(header, ";base64") {
		return "", nil, errors.Errorf("data URI for %s is not base64 encoded", contentType)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, errors.Wrap(err, "decoding data URI")
	}
	return contentType, data, nil
}

func extensionFor(contentType string) string {
	if ext, ok := preferredExt[contentType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// rewriteImages parses doc as an HTML fragment, passes every <img> src through fn and renders
// the fragment back.
func rewriteImages(doc string, fn func(src string) (string, error)) (string, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(doc), body)
	if err != nil {
		return "", errors.Wrap(err, "parsing html")
	}

	var walk func(n *html.Node) error
	walk = func(n *html.Node) error {
		if n.Type == html.ElementNode && n.DataAtom == atom.Img {
			for i, attr := range n.Attr {
				if attr.Key != "src" {
					continue
				}
				src, err := fn(attr.Val)
				if err != nil {
					return err
				}
				n.Attr[i].Val = src
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		if err := walk(n); err != nil {
			return "", err
		}
		if err := html.Render(&buf, n); err != nil {
			return "", errors.Wrap(err, "rendering html")
		}
	}
	return buf.String(), nil
}
