// Package batch drives note processing from spreadsheet exports. A CSV file
// with one note per row goes in; the same rows come out with the extracted
// image and video text filled into extra columns.
package batch
