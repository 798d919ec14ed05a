package idconv

import (
	"bytes"
	"encoding/json"
)

// Response is the JSON body returned by the ID converter.
type Response struct {
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Records []Record `json:"records"`
}

// Record is one converted identifier. A record without a DOI means the
// service knows of no DOI for the requested id.
type Record struct {
	RequestedID ID     `json:"requested-id"`
	PMID        ID     `json:"pmid"`
	PMCID       ID     `json:"pmcid"`
	DOI         string `json:"doi"`
	Status      string `json:"status,omitempty"`
	ErrMsg      string `json:"errmsg,omitempty"`
}

// ID is an identifier value. It accepts JSON strings and numbers because
// the service has emitted numeric pmid values in some versions.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}
