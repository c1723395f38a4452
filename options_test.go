package mesh3d

import (
	"testing"

	"github.com/gogpu/mesh3d/rf"
)

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.CacheCapacity != DefaultCacheCapacity || o.ElevationScale != 1 || o.RecomputeDelay != DefaultRecomputeDelay {
		t.Errorf("defaults = %+v", o)
	}
	if o.RF != rf.DefaultConfig() || o.ITM != rf.DefaultITMParams() {
		t.Error("zero RF or ITM not replaced by defaults")
	}

	cfg := rf.DefaultConfig()
	cfg.RxHeightAGL = 3
	o = Options{RF: cfg, CacheCapacity: 9, ElevationScale: 2}.withDefaults()
	if o.RF.RxHeightAGL != 3 || o.CacheCapacity != 9 || o.ElevationScale != 2 {
		t.Errorf("explicit values overwritten: %+v", o)
	}
}
