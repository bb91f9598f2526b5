package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/pack"
	"github.com/matzehuels/lockstep/pkg/publish"
)

type attachment struct {
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
	Length      int64  `json:"length"`
}

type dist struct {
	Shasum    string `json:"shasum"`
	Integrity string `json:"integrity"`
	Tarball   string `json:"tarball"`
}

type publishBody struct {
	ID          string                     `json:"_id"`
	Name        string                     `json:"name"`
	Access      string                     `json:"access,omitempty"`
	DistTags    map[string]string          `json:"dist-tags"`
	Versions    map[string]json.RawMessage `json:"versions"`
	Attachments map[string]attachment      `json:"_attachments"`
}

// Publish uploads req.Tarball under req.DistTag.
func (c *Client) Publish(ctx context.Context, req publish.PublishRequest) error {
	if req.Tarball == nil {
		return errors.New(errors.ErrCodeValidation, "publish %s: no tarball", req.Name)
	}
	data, err := req.Tarball.Data()
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "read tarball %s", req.Tarball.Path)
	}

	var meta map[string]any
	if err := json.Unmarshal(req.Manifest, &meta); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidManifest, err, "publish manifest of %s", req.Name)
	}
	file := pack.FileName(req.Name, req.Version)
	meta["_id"] = req.Name + "@" + req.Version
	meta["dist"] = dist{
		Shasum:    req.Tarball.Shasum,
		Integrity: req.Tarball.Integrity,
		Tarball:   c.base + "/" + req.Name + "/-/" + file,
	}
	version, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "encode %s", req.Name)
	}

	body := publishBody{
		ID:       req.Name,
		Name:     req.Name,
		Access:   req.Access,
		DistTags: map[string]string{req.DistTag: req.Version},
		Versions: map[string]json.RawMessage{req.Version: version},
		Attachments: map[string]attachment{
			file: {
				ContentType: "application/octet-stream",
				Data:        base64.StdEncoding.EncodeToString(data),
				Length:      int64(len(data)),
			},
		},
	}
	if err := c.do(ctx, request{method: "PUT", path: "/" + EscapeName(req.Name), body: body, otp: req.OTP}, nil); err != nil {
		return err
	}
	c.invalidate(ctx, req.Name)
	return nil
}

func (c *Client) invalidate(ctx context.Context, name string) {
	_ = c.cache.Delete(ctx, c.keyer.PackumentKey(c.base, name))
	_ = c.cache.Delete(ctx, c.keyer.DistTagsKey(c.base, name))
}

var _ publish.Registry = (*Client)(nil)
