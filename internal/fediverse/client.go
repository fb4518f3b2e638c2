// Package fediverse implements the signed federation HTTP client: fetching
// remote posts and reply collections on behalf of a local identity, and
// delivering Create/Update activities outward.
package fediverse

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-fed/httpsig"

	"fedipost/internal/model"
	"fedipost/internal/pipeline"
)

const (
	activityJSONType = "application/activity+json"
	maxResponseBytes = 2 << 20
)

// Client performs draft-cavage signed requests against remote federation
// endpoints. It implements the pipeline's RemoteFetcher.
type Client struct {
	http           *http.Client
	logger         pipeline.Logger
	privateKey     *rsa.PrivateKey
	profileURLBase string
}

// NewClient creates a Client signing with the given PEM-encoded RSA private
// key. profileURLBase is the public base URL local actor ids are built from.
func NewClient(privateKeyPEM []byte, profileURLBase string, logger pipeline.Logger) (*Client, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in private key")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		pkcs8, err8 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err8 != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		rsaKey, ok := pkcs8.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
		key = rsaKey
	}
	return &Client{
		http:           &http.Client{Timeout: 30 * time.Second},
		logger:         logger,
		privateKey:     key,
		profileURLBase: profileURLBase,
	}, nil
}

// ActorURL returns the public actor id of a local user.
func (c *Client) ActorURL(actor *model.User) string {
	return c.profileURLBase + "/fediverse/blog/" + actor.Handle
}

func (c *Client) keyID(actor *model.User) string {
	return c.ActorURL(actor) + "#main-key"
}

// signedGet fetches a remote resource with a signed request on behalf of the
// acting local identity.
func (c *Client) signedGet(ctx context.Context, actor *model.User, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", activityJSONType)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{httpsig.RequestTarget, "host", "date"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}
	if err := signer.SignRequest(c.privateKey, c.keyID(actor), req, nil); err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}

// signedPost delivers a signed activity payload to a remote inbox.
func (c *Client) signedPost(ctx context.Context, actor *model.User, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", activityJSONType)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{httpsig.RequestTarget, "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("creating signer: %w", err)
	}
	if err := signer.SignRequest(c.privateKey, c.keyID(actor), req, payload); err != nil {
		return fmt.Errorf("signing request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting to %s: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("posting to %s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}

// Wire representations. Reply collection items may be bare id strings or
// inlined objects; both reduce to ids.

type wireNote struct {
	ID           string          `json:"id"`
	AttributedTo string          `json:"attributedTo"`
	Content      string          `json:"content"`
	InReplyTo    string          `json:"inReplyTo"`
	Summary      string          `json:"summary"`
	Published    time.Time       `json:"published"`
	Replies      *wireCollection `json:"replies"`
}

type wireCollection struct {
	First json.RawMessage `json:"first"`
}

type wirePage struct {
	Items        []json.RawMessage `json:"items"`
	OrderedItems []json.RawMessage `json:"orderedItems"`
	Next         string            `json:"next"`
}

func decodeItemID(raw json.RawMessage) string {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func decodePage(raw []byte) (*model.RemotePage, error) {
	var wp wirePage
	if err := json.Unmarshal(raw, &wp); err != nil {
		return nil, fmt.Errorf("decoding replies page: %w", err)
	}
	items := wp.Items
	if len(items) == 0 {
		items = wp.OrderedItems
	}
	page := &model.RemotePage{Next: wp.Next}
	for _, raw := range items {
		if id := decodeItemID(raw); id != "" {
			page.Items = append(page.Items, id)
		}
	}
	return page, nil
}

// FetchNote retrieves the protocol representation of a remote post. When the
// replies collection only references its first page, that page is fetched
// too; a page fetch failure degrades to a note without replies.
func (c *Client) FetchNote(ctx context.Context, actor *model.User, remoteID string) (*model.RemoteNote, error) {
	body, err := c.signedGet(ctx, actor, remoteID)
	if err != nil {
		return nil, err
	}
	var wn wireNote
	if err := json.Unmarshal(body, &wn); err != nil {
		return nil, fmt.Errorf("decoding remote post: %w", err)
	}

	note := &model.RemoteNote{
		ID:           wn.ID,
		AttributedTo: wn.AttributedTo,
		Content:      wn.Content,
		InReplyTo:    wn.InReplyTo,
		Summary:      wn.Summary,
		Published:    wn.Published,
	}
	if wn.Replies != nil && len(wn.Replies.First) > 0 {
		var firstRef string
		if err := json.Unmarshal(wn.Replies.First, &firstRef); err == nil {
			page, err := c.FetchPage(ctx, actor, firstRef)
			if err != nil {
				c.logger.Debug("fetching first replies page", "note", wn.ID, "error", err)
			} else {
				note.RepliesFirst = page
			}
		} else if page, err := decodePage(wn.Replies.First); err == nil {
			note.RepliesFirst = page
		}
	}
	return note, nil
}

// FetchPage retrieves one page of a paginated reply collection.
func (c *Client) FetchPage(ctx context.Context, actor *model.User, pageID string) (*model.RemotePage, error) {
	body, err := c.signedGet(ctx, actor, pageID)
	if err != nil {
		return nil, err
	}
	return decodePage(body)
}
