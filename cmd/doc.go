// Package cmd implements the predictd command line. It has two subcommands:
//
//   - serve: runs a Predict server until SIGINT or SIGTERM, then drains
//   - call: sends one Predict call to a server and prints the result
//
// Every flag can also be set through a PREDICT_<FLAG> environment variable
// (dashes become underscores) or a .env / .env.local file in the working
// directory. Flags take precedence over the environment.
package cmd
