// Package generic implements providers.Scraper for HTML manga reading sites.
// Madara (WordPress) markup is recognized first; other sites fall back to
// DOM heuristics over links and images.
package generic
