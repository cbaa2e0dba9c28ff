// Package config loads agentgraph runtime settings and builds the gateways,
// checkpoint backend and logger they describe.
//
// Sources, lowest precedence first:
//
//  1. built-in defaults
//  2. a YAML file (LoadOptions.ConfigFile)
//  3. a dotenv file (LoadOptions.EnvFile, ".env" by default)
//  4. the process environment
//
// Every key can be overridden by AGENTGRAPH_<SECTION>_<KEY>, for example
// AGENTGRAPH_CHECKPOINT_REDIS_ADDR. Provider credentials are also read from
// OPENAI_API_KEY and ANTHROPIC_API_KEY; a provider without a key is not
// registered.
//
//	cfg, err := config.Load(func(o *config.LoadOptions) {
//	    o.ConfigFile = "agentgraph.yaml"
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger := cfg.Logging.Logger(os.Stderr)
//	models := cfg.Model.Gateway(logger)
package config
