package envvar

const (
	// ModelconvEnv is the environment variable used to determine the environment
	ModelconvEnv = "MODELCONV_ENV"

	// ModelconvModelsPath is the environment variable used to override the models cache directory
	ModelconvModelsPath = "MODELCONV_MODELS_PATH"

	// ModelconvConfig is the environment variable used to point at a config file
	ModelconvConfig = "MODELCONV_CONFIG"
)
