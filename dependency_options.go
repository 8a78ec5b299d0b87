package queue

import (
	"github.com/DoNewsCode/core/contract"
	"github.com/go-kit/kit/log"
)

type providersOption struct {
	client            SQSAPI
	clientConstructor func(args ClientConstructorArgs) (SQSAPI, error)
	registry          *Registry
}

// ProvidersOptionFunc is the type of functional providersOption for Providers. Use this type to change how Providers work.
type ProvidersOptionFunc func(options *providersOption)

// WithClient instructs the Providers to use the given SQS client for every
// queue. This option supersedes the WithClientConstructor option.
func WithClient(client SQSAPI) ProvidersOptionFunc {
	return func(options *providersOption) {
		options.client = client
	}
}

// WithClientConstructor instructs the Providers to accept an alternative constructor for the SQS client.
// If the WithClient option is set, this option becomes an no-op.
func WithClientConstructor(f func(args ClientConstructorArgs) (SQSAPI, error)) ProvidersOptionFunc {
	return func(options *providersOption) {
		options.clientConstructor = f
	}
}

// WithPayloads registers payload types with every backend the Providers create.
func WithPayloads(prototypes ...Payload) ProvidersOptionFunc {
	return func(options *providersOption) {
		if options.registry == nil {
			options.registry = NewRegistry()
		}
		options.registry.Register(prototypes...)
	}
}

// ClientConstructorArgs are arguments to construct the SQS client. See WithClientConstructor.
type ClientConstructorArgs struct {
	Name    string
	Conf    Configuration
	Logger  log.Logger
	AppName contract.AppName
	Env     contract.Env
}
