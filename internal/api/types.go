package api

// ProblemSpec names the descriptor-table parameters shared by run and
// estimate requests. Zero values for the optional fields follow the
// engine defaults (head_size_v falls back to head_size, seq_length_kv
// to seq_length, alignment to 1).
type ProblemSpec struct {
	BatchSize   int   `json:"batch_size"`
	HeadNumber  int   `json:"head_number"`
	HeadSize    int   `json:"head_size"`
	HeadSizeV   int   `json:"head_size_v,omitempty"`
	SeqLength   int   `json:"seq_length"`
	SeqLengthKV int   `json:"seq_length_kv,omitempty"`
	FixedLength bool  `json:"fixed_length,omitempty"`
	UseMask     bool  `json:"use_mask,omitempty"`
	Causal      bool  `json:"causal,omitempty"`
	Alignment   int   `json:"alignment,omitempty"`
	Seed        int64 `json:"seed,omitempty"`
}

// RunRequest asks the service to build a problem set, execute it and
// optionally verify the result against the exact reference.
type RunRequest struct {
	ProblemSpec

	SchedulerMode string  `json:"scheduler_mode,omitempty"` // device-only (default) or host-precompute
	TileRows      int     `json:"tile_rows,omitempty"`
	TileCols      int     `json:"tile_cols,omitempty"`
	Units         int     `json:"units,omitempty"`
	Scale         float64 `json:"scale,omitempty"`
	Check         *bool   `json:"check,omitempty"` // default true
}

// RunResponse is the stored record of one executed launch.
type RunResponse struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	CreatedAt int64  `json:"created_at"`
	Status    string `json:"status"` // completed | failed
	Error     string `json:"error,omitempty"`

	Request RunRequest `json:"request"`

	Problems     int   `json:"problems"`
	WorkUnits    int   `json:"work_units"`
	Units        int   `json:"units"`
	ScratchAccum bool  `json:"scratch_accum,omitempty"`
	Workspace    int64 `json:"workspace_bytes"`

	Flops     int64   `json:"flops"`
	ElapsedMS float64 `json:"elapsed_ms"`
	GFlops    float64 `json:"gflops"`

	Checked     bool    `json:"checked"`
	Passed      *bool   `json:"passed,omitempty"`
	MaxAbsError float64 `json:"max_abs_error,omitempty"`
	MaxRelError float64 `json:"max_rel_error,omitempty"`
}

type EstimateRequest struct {
	ProblemSpec

	TileRows int `json:"tile_rows,omitempty"`
	TileCols int `json:"tile_cols,omitempty"`
}

// EstimateResponse reports the work a problem set would schedule without
// executing it.
type EstimateResponse struct {
	Object string `json:"object"`

	Problems  int   `json:"problems"`
	WorkUnits int   `json:"work_units"`
	KeyTiles  int   `json:"key_tiles"`
	Flops     int64 `json:"flops"`

	ElemsQ int `json:"elems_q"`
	ElemsK int `json:"elems_k"`
	ElemsV int `json:"elems_v"`
	ElemsO int `json:"elems_o"`
}

type DeleteRunResp struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
