// Package element defines the catalog entity that enrichment operates on.
package element
