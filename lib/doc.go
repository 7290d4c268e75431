// Package lib provide small helpers shared by the storage packages.
package lib
