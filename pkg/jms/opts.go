package jms

// cfg is the fully resolved configuration backing a Connection,
// assembled from defaults plus every applied Opt.
type cfg struct {
	logger            Logger
	uris              []string
	clientID          string
	credentials       Credentials
	policies          Policies
	timeouts          Timeouts
	toggles           Toggles
	connListener      ConnectionListener
	exceptionListener ExceptionListener
}

func defaultCfg() *cfg {
	return &cfg{
		logger: NopLogger(),
		timeouts: Timeouts{
			Connect: defaultConnectTimeout,
			Close:   defaultCloseTimeout,
			Request: defaultRequestTimeout,
		},
		policies: Policies{
			Prefetch: defaultPrefetch,
		},
	}
}

// Opt configures a Connection at construction time.
type Opt interface{ apply(*cfg) }

type optFunc func(*cfg)

func (f optFunc) apply(c *cfg) { f(c) }

// WithLogger installs l as the connection's Logger (default: NopLogger).
func WithLogger(l Logger) Opt {
	return optFunc(func(c *cfg) { c.logger = l })
}

// WithURIs sets the configured broker URIs, recorded in
// ConnectionInfo.ConfiguredURIs. The connection does not dial them
// itself; connecting is left to the provider.
func WithURIs(uris ...string) Opt {
	return optFunc(func(c *cfg) { c.uris = uris })
}

// WithClientID pre-sets the client id before connect. Setting it again
// after Connect returns IllegalState, enforced by Connection.SetClientID,
// not here.
func WithClientID(id string) Opt {
	return optFunc(func(c *cfg) { c.clientID = id })
}

// WithCredentials sets the username/password pair.
func WithCredentials(username, password string) Opt {
	return optFunc(func(c *cfg) { c.credentials = Credentials{Username: username, Password: password} })
}

// WithPolicies sets the opaque policy bundle.
func WithPolicies(p Policies) Opt {
	return optFunc(func(c *cfg) { c.policies = p })
}

// WithTimeouts overrides the per-call timeouts. Zero fields fall back to
// the default.
func WithTimeouts(t Timeouts) Opt {
	return optFunc(func(c *cfg) {
		if t.Connect > 0 {
			c.timeouts.Connect = t.Connect
		}
		if t.Close > 0 {
			c.timeouts.Close = t.Close
		}
		if t.Send > 0 {
			c.timeouts.Send = t.Send
		}
		if t.Request > 0 {
			c.timeouts.Request = t.Request
		}
	})
}

// WithToggles sets the boolean behavior knobs (forced sync/async send,
// user-id population, and similar).
func WithToggles(t Toggles) Opt {
	return optFunc(func(c *cfg) { c.toggles = t })
}

// WithConnectionListener installs the application's ConnectionListener.
func WithConnectionListener(l ConnectionListener) Opt {
	return optFunc(func(c *cfg) { c.connListener = l })
}

// WithExceptionListener installs the application's ExceptionListener,
// which receives asynchronous exceptions.
func WithExceptionListener(l ExceptionListener) Opt {
	return optFunc(func(c *cfg) { c.exceptionListener = l })
}
