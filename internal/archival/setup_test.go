package archival

import "testing"

func TestInferColumnTypes(t *testing.T) {
	doubles, timestamps := inferColumnTypes([]string{
		"trade_id", "pnl_usd", "entry_time", "valid_until", "config_hash", "active",
	})

	if !doubles["pnl_usd"] {
		t.Error("pnl_usd should infer as DOUBLE")
	}
	if !timestamps["entry_time"] {
		t.Error("entry_time should infer as TIMESTAMP")
	}
	if !timestamps["valid_until"] {
		t.Error("valid_until should infer as TIMESTAMP")
	}
	if doubles["config_hash"] || timestamps["config_hash"] {
		t.Error("config_hash is a hex string, should default to VARCHAR")
	}
	if doubles["trade_id"] || timestamps["trade_id"] {
		t.Error("trade_id should default to VARCHAR")
	}
}
