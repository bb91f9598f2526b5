package registry

import (
	"context"

	"github.com/matzehuels/lockstep/pkg/cache"
	"github.com/matzehuels/lockstep/pkg/errors"
)

func distTagPath(name, tag string) string {
	p := "/-/package/" + EscapeName(name) + "/dist-tags"
	if tag != "" {
		p += "/" + tag
	}
	return p
}

// DistTags lists the dist-tags of name.
func (c *Client) DistTags(ctx context.Context, name string) (map[string]string, error) {
	key := c.keyer.DistTagsKey(c.base, name)
	tags := map[string]string{}
	if ok, _ := cache.GetJSON(ctx, c.cache, "dist-tags", key, &tags); ok {
		return tags, nil
	}
	if err := c.do(ctx, request{method: "GET", path: distTagPath(name, ""), retry: true}, &tags); err != nil {
		return nil, err
	}
	_ = cache.SetJSON(ctx, c.cache, "dist-tags", key, tags, c.ttl)
	return tags, nil
}

// AddDistTag points tag at name@version.
func (c *Client) AddDistTag(ctx context.Context, name, version, tag, otp string) error {
	if tag == "" {
		return errors.New(errors.ErrCodeValidation, "dist-tag name is required")
	}
	err := c.do(ctx, request{method: "PUT", path: distTagPath(name, tag), body: version, otp: otp, retry: true}, nil)
	if err != nil {
		return err
	}
	c.invalidate(ctx, name)
	return nil
}

// RemoveDistTag deletes tag from name. Removing a tag that does not exist is
// not an error.
func (c *Client) RemoveDistTag(ctx context.Context, name, tag, otp string) error {
	if tag == "" {
		return errors.New(errors.ErrCodeValidation, "dist-tag name is required")
	}
	err := c.do(ctx, request{method: "DELETE", path: distTagPath(name, tag), otp: otp, retry: true}, nil)
	if err != nil && !errors.Is(err, errors.ErrCodeNotFound) {
		return err
	}
	c.invalidate(ctx, name)
	return nil
}
