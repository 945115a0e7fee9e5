// Package campbell talks to Campbell Scientific dataloggers through the
// DataQuery web API.
//
// QueryURL builds the most-recent-record request for a table, HTTPFetcher
// performs it and ParseResponse turns the JSON body into a domain.Reading.
//
// The response shape this package understands:
//
//	{
//	  "head": {"fields": [{"name": "Temp", "units": "C"}, ...]},
//	  "data": [{"time": "2024-05-01T12:00:00", "no": 42, "vals": [21.5, ...]}]
//	}
//
// Only the first record of data is used. Values are positional: vals[i]
// belongs to fields[i].
package campbell
