package config

import (
	invokerpkg "chatpipe/pkg/invoker"
	pipelinepkg "chatpipe/pkg/pipeline"
)

// MustLoadPipeline loads etc/pipeline.yaml from the project root and panics on error.
// It isolates the pipeline section so tools and tests that only need chatbot
// definitions do not have to carry a full service config.
func MustLoadPipeline() *pipelinepkg.Config {
	return pipelinepkg.MustLoad()
}

// MustLoadInvoker loads etc/invoker.yaml from the project root and panics on error.
func MustLoadInvoker() *invokerpkg.Config {
	return invokerpkg.MustLoad()
}
