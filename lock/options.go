package lock

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTimeout         = 10 * time.Second
	DefaultInitialInterval = 100 * time.Millisecond
	DefaultMaxInterval     = time.Second
	DefaultStaleAfter      = 10 * time.Minute
)

type Options struct {
	// Timeout bounds the whole acquisition loop of Obtain and TryObtain.
	Timeout time.Duration
	// InitialInterval and MaxInterval bound the exponential backoff between attempts.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// StaleAfter is the age after which a marker is treated as abandoned and removed.
	StaleAfter time.Duration
	// Holder identifies this lock object in the marker. Defaults to a random UUID.
	Holder string
	// OnStateChange is called after every state transition.
	OnStateChange func(name string, state State)
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

func WithRetryInterval(initial, maxInterval time.Duration) Option {
	return func(o *Options) {
		o.InitialInterval = initial
		o.MaxInterval = maxInterval
	}
}

func WithStaleAfter(d time.Duration) Option {
	return func(o *Options) {
		o.StaleAfter = d
	}
}

func WithHolder(holder string) Option {
	return func(o *Options) {
		o.Holder = holder
	}
}

func WithStateHook(f func(name string, state State)) Option {
	return func(o *Options) {
		o.OnStateChange = f
	}
}

func newOptions(opts []Option) Options {
	o := Options{
		Timeout:         DefaultTimeout,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		StaleAfter:      DefaultStaleAfter,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.Holder == "" {
		o.Holder = uuid.NewString()
	}
	if o.MaxInterval < o.InitialInterval {
		o.MaxInterval = o.InitialInterval
	}

	return o
}
