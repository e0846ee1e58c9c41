package client

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"annotext/internal/reader"
)

// voteResponse covers both vote payloads the server has spoken: the flat
// {status, rollback, success, change} object and the {situ: [...]} flag list.
type voteResponse struct {
	Status   string   `json:"status"`
	Rollback bool     `json:"rollback"`
	Success  bool     `json:"success"`
	Change   *int     `json:"change"`
	Situ     []string `json:"situ"`
}

// decodeVote normalizes a vote payload. In the flag form "login", "rollback"
// and "success" set the matching field and a signed integer such as "+2" or
// "-1" carries the weight change.
func decodeVote(raw []byte) (reader.VoteResult, error) {
	var resp voteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return reader.VoteResult{}, fmt.Errorf("decode vote response: %w", err)
	}
	if resp.Situ == nil {
		return reader.VoteResult{
			RequiresAuth: resp.Status == "login",
			Rollback:     resp.Rollback,
			Success:      resp.Success,
			Delta:        resp.Change,
		}, nil
	}

	var result reader.VoteResult
	for _, flag := range resp.Situ {
		switch flag = strings.TrimSpace(flag); flag {
		case "login":
			result.RequiresAuth = true
		case "rollback":
			result.Rollback = true
		case "success":
			result.Success = true
		default:
			change, err := strconv.Atoi(flag)
			if err != nil {
				return reader.VoteResult{}, fmt.Errorf("unknown vote flag %q", flag)
			}
			result.Delta = &change
		}
	}
	if resp.Change != nil {
		result.Delta = resp.Change
	}
	return result, nil
}
