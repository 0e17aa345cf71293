package guestlink

import (
	"fmt"

	"github.com/machinefabric/guestlink-go/config"
	"github.com/machinefabric/guestlink-go/envelope"
	"github.com/machinefabric/guestlink-go/logging"
)

// ErrNoLocation is returned by Init when the startup location does not
// carry an origin and an app guid.
var ErrNoLocation = config.ErrNoLocation

// Init starts a guest from the location the host loaded it with. location
// is a URL, fragment or query string carrying origin and app_guid. When
// onRegistered is set it runs with the new client and the registration
// payload once the host registers the guest. A nil settings uses defaults.
func Init(window Window, location string, onRegistered func(c *Client, data interface{}), settings *config.Settings) (*Client, error) {
	loc, err := config.ParseLocation(location)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = config.Default()
	}

	codec, err := envelope.ByName(settings.Codec)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(settings.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	c, err := New(Options{
		Origin:               loc.Origin,
		AppGuid:              loc.AppGuid,
		Window:               window,
		Codec:                codec,
		Logger:               logger,
		RequestTimeout:       settings.RequestTimeout,
		SlowRequestThreshold: settings.SlowRequestThreshold,
		NoTimeoutActions:     settings.NoTimeoutActions,
	})
	if err != nil {
		return nil, err
	}
	if onRegistered != nil {
		c.On(EventRegistered, Listener(func(data interface{}) {
			onRegistered(c, data)
		}))
	}
	return c, nil
}
