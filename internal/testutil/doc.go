// Package testutil provides a fake authorization server for tests.
package testutil
