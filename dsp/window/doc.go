// Package window generates the tapering windows used ahead of spectral
// analysis.
//
// Only the cosine-sum family the analysis needs is provided. Coefficients
// are symmetric by default; WithPeriodic yields the DFT-even variant used
// for overlapping Welch segments.
package window
