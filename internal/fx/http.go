package fx

import (
	"encoding/json"
	"io"
	"net/http"
)

func decodeJSON(resp *http.Response, dest any) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
