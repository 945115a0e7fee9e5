package campbell

import (
	"fmt"
	"net/url"
)

// Query parameter values for a most-recent DataQuery request.
const (
	CommandDataQuery = "DataQuery"
	FormatJSON       = "json"
	ModeMostRecent   = "most-recent"
)

// QueryURL returns host with the DataQuery parameters for the most recent
// record of table appended. Query parameters already present on host are
// preserved; the five DataQuery parameters replace any of the same name.
func QueryURL(host, table string) (string, error) {
	if table == "" {
		return "", fmt.Errorf("query url: table is required")
	}
	u, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("query url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("query url: host %q must be an absolute URL", host)
	}

	q := u.Query()
	q.Set("command", CommandDataQuery)
	q.Set("uri", "dl:"+table)
	q.Set("format", FormatJSON)
	q.Set("mode", ModeMostRecent)
	q.Set("p1", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
