// Package config loads and validates collector configuration.
//
// Configuration is a YAML file with ${ENV} substitution, so credentials
// and symbol lists can be supplied by the deployment environment without
// editing the file. Defaults cover everything except database access and
// the symbol list.
package config
