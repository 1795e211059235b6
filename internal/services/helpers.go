package services

import (
	"encoding/json"
	"strconv"

	"ledger/internal/models"
)

func auditData(txn models.Transaction) string {
	data, _ := json.Marshal(map[string]string{
		"user_id": txn.UserID,
		"amount":  strconv.FormatInt(txn.Amount, 10),
		"type":    txn.Type,
	})
	return string(data)
}
