package main

// General API documentation for swaggo. Run `swag init` to generate docs.
//
// @title           cartond API
// @version         1.0
// @description     HTTP API for the Carton model runtime: load, pack, and
// @description     run inference against packaged ML models.
//
// @contact.name   carton maintainers
// @contact.url    https://github.com/carton-run/carton
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
