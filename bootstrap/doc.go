// Package bootstrap wires configuration, rules and the pipeline into a scan.
// It keeps the initialization logic out of the cobra commands so that it can
// be tested on its own.
//
// Usage:
//
//	app, err := bootstrap.NewApp(cfg, bootstrap.ScanOptions{}, sugar)
//	if err != nil {
//	    return err
//	}
//	result, err := app.Run(ctx, inputs)
package bootstrap
