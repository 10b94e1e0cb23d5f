package compose

import "github.com/sawitlab/tanya/internal/config"

// systemPrompt steers the model toward grounded, factual Indonesian replies.
const systemPrompt = "Anda adalah asisten layanan pelanggan resmi. " +
	"Jawab ringkas, berbasis fakta, Bahasa Indonesia, sertakan sumber internal jika ada. " +
	"Jika tidak yakin, nyatakan ketidakpastian dan sarankan bantuan manusia. " +
	"Jangan berhalusinasi atau membuat kebijakan baru."

// Templates are the fixed, channel-agnostic reply texts. They are never
// model-generated.
type Templates struct {
	SafeFallback string
	Denylist     string
	OrderStatus  string
}

// DefaultTemplates returns the stock Indonesian templates.
func DefaultTemplates() Templates {
	return Templates{
		SafeFallback: "Maaf, saya belum yakin dapat menjawab pertanyaan Anda dengan tepat. " +
			"Saya akan meneruskan ini ke tim layanan pelanggan kami.",
		Denylist: "Maaf, saya tidak dapat membagikan informasi tersebut. " +
			"Tim kami siap membantu secara langsung bila diperlukan.",
		OrderStatus: "Fitur pengecekan status pesanan akan segera hadir. " +
			"Tim kami sudah menerima permintaan Anda.",
	}
}

// TemplatesFromConfig overlays configured texts onto the defaults.
func TemplatesFromConfig(cfg config.TemplatesConfig) Templates {
	t := DefaultTemplates()
	if cfg.SafeFallback != "" {
		t.SafeFallback = cfg.SafeFallback
	}
	if cfg.Denylist != "" {
		t.Denylist = cfg.Denylist
	}
	if cfg.OrderStatus != "" {
		t.OrderStatus = cfg.OrderStatus
	}
	return t
}
