package guestlink

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Metadata describes the installed application, as sent by the host when
// it registers the guest.
type Metadata struct {
	AppID          int                    `mapstructure:"appId"`
	InstallationID int                    `mapstructure:"installationId"`
	Name           string                 `mapstructure:"name"`
	Version        string                 `mapstructure:"version"`
	Settings       map[string]interface{} `mapstructure:"settings"`
	Extra          map[string]interface{} `mapstructure:",remain"`
}

func decodeMap(in interface{}, out interface{}) error {
	if in == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

func decodeMetadata(m map[string]interface{}) (*Metadata, error) {
	md := &Metadata{}
	if m == nil {
		return md, nil
	}
	if err := decodeMap(m, md); err != nil {
		return md, err
	}
	return md, nil
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Metadata resolves with the application metadata once the host has
// registered the guest. Children answer from the root.
func (c *Client) Metadata() *Future[Metadata] {
	if c.parent != nil {
		return c.parent.Metadata()
	}
	fut := newFuture[Metadata]()
	c.onRegistered(func(registration) {
		c.mu.Lock()
		md := c.metadata
		c.mu.Unlock()
		if md == nil {
			md = &Metadata{}
		}
		fut.settle(*md, nil)
	})
	return fut
}

// Context resolves with the shared context snapshot. A child without one
// fetches it with Get("instances.<guid>"); the root waits for registration.
func (c *Client) Context() *Future[map[string]interface{}] {
	c.mu.Lock()
	snapshot := c.context
	c.mu.Unlock()
	if snapshot != nil {
		return Resolved(snapshot)
	}

	fut := newFuture[map[string]interface{}]()
	if c.instanceGuid != "" && c.instanceGuid != c.appGuid {
		key := "instances." + c.instanceGuid
		res, _ := c.Get(key)
		go func() {
			<-res.Done()
			r, err, _ := res.Poll()
			if err != nil {
				fut.settle(nil, err)
				return
			}
			ctx, _ := r[key].(map[string]interface{})
			c.mu.Lock()
			c.context = ctx
			c.mu.Unlock()
			fut.settle(ctx, nil)
		}()
		return fut
	}

	c.onRegistered(func(reg registration) {
		fut.settle(reg.Context, nil)
	})
	return fut
}

// Request asks the host to perform an HTTP request described by options
// (url, type, data and the like). It resolves with the first response
// argument of the host's done event and fails with *RequestError on its
// fail event. There is no timeout.
func (c *Client) Request(options map[string]interface{}) (*Future[interface{}], error) {
	if c.parent != nil {
		return c.parent.Request(options)
	}
	if len(options) == 0 {
		return nil, usageError("request requires a url or an options map")
	}
	if url, ok := options["url"]; ok {
		if s, _ := url.(string); s == "" {
			return nil, usageError("request url must be a non-empty string")
		}
	}

	l := c.link
	key := fmt.Sprintf("%s:%d", kindRequest, l.corr.next(kindRequest))
	fut := newFuture[interface{}]()

	var done, fail *Subscription
	finish := func(v interface{}, err error) {
		if !fut.settle(v, err) {
			return
		}
		l.forgetClose(key)
		c.Off(key+".done", done)
		c.Off(key+".fail", fail)
	}
	if !l.onClose(key, func() { fut.settle(nil, ErrClosed) }) {
		return Failed[interface{}](ErrClosed), nil
	}

	done = c.On(key+".done", func(data interface{}) Outcome {
		args := responseArgs(data)
		var first interface{}
		if len(args) > 0 {
			first = args[0]
		}
		finish(first, nil)
		return Done()
	})
	fail = c.On(key+".fail", func(data interface{}) Outcome {
		finish(nil, &RequestError{Args: responseArgs(data)})
		return Done()
	})

	c.PostMessage(key, options)
	return fut, nil
}

// RequestURL is Request with only a url.
func (c *Client) RequestURL(url string) (*Future[interface{}], error) {
	if url == "" {
		return nil, usageError("request url must be a non-empty string")
	}
	return c.Request(map[string]interface{}{"url": url})
}

func responseArgs(data interface{}) []interface{} {
	m, ok := data.(map[string]interface{})
	if !ok {
		return nil
	}
	args, _ := m["responseArgs"].([]interface{})
	return args
}
