package eth

// Register offsets from the ETH peripheral base.
const (
	MACCR    uint32 = 0x0000
	MACFFR   uint32 = 0x0004
	MACMIIAR uint32 = 0x0010
	MACMIIDR uint32 = 0x0014
	MACA0HR  uint32 = 0x0040
	MACA0LR  uint32 = 0x0044

	DMABMR   uint32 = 0x1000
	DMATPDR  uint32 = 0x1004
	DMARPDR  uint32 = 0x1008
	DMARDLAR uint32 = 0x100C
	DMATDLAR uint32 = 0x1010
	DMASR    uint32 = 0x1014
	DMAOMR   uint32 = 0x1018
	DMAIER   uint32 = 0x101C
)

// MACCR bits.
const (
	MACCR_FES  uint32 = 1 << 14
	MACCR_DM   uint32 = 1 << 11
	MACCR_IPCO uint32 = 1 << 10
	MACCR_APCS uint32 = 1 << 7
	MACCR_TE   uint32 = 1 << 3
	MACCR_RE   uint32 = 1 << 2

	// reserved bits preserved on read-modify-write
	maccrKeep uint32 = 0xff308103
)

// MACFFR bits.
const (
	MACFFR_PM uint32 = 1 << 0
)

// MACMIIAR fields.
const (
	MACMIIAR_PAShift = 11
	MACMIIAR_MRShift = 6
	MACMIIAR_CR      uint32 = 0x1c
	MACMIIAR_MW      uint32 = 1 << 1
	MACMIIAR_MB      uint32 = 1 << 0
)

// DMASR bits.
const (
	DMASR_TS   uint32 = 1 << 0
	DMASR_TBUS uint32 = 1 << 2
	DMASR_RS   uint32 = 1 << 6
	DMASR_RBUS uint32 = 1 << 7
)

// DMAOMR bits.
const (
	DMAOMR_SR  uint32 = 1 << 1
	DMAOMR_ST  uint32 = 1 << 13
	DMAOMR_TSF uint32 = 1 << 21
	DMAOMR_RSF uint32 = 1 << 25

	dmaomrKeep uint32 = 0xf8ce1f21
)

// DMABMR bits.
const (
	DMABMR_SR    uint32 = 1 << 0
	DMABMR_PBL16 uint32 = 16 << 8
	DMABMR_AAB   uint32 = 1 << 25

	dmabmrKeep uint32 = 0xfc000080
)

// TX descriptor status word (TDES0).
const (
	TxDesc_OWN            uint32 = 0x80000000
	TxDesc_IC             uint32 = 0x40000000
	TxDesc_LS             uint32 = 0x20000000
	TxDesc_FS             uint32 = 0x10000000
	TxDesc_CIC            uint32 = 0x00C00000
	TxDesc_CIC_IPV4Header uint32 = 0x00400000
	TxDesc_CIC_Segment    uint32 = 0x00800000
	TxDesc_CIC_Full       uint32 = 0x00C00000
	TxDesc_TER            uint32 = 0x00200000
	TxDesc_ES             uint32 = 0x00008000

	// TDES1 buffer sizes
	TxDesc_TBS1 uint32 = 0x00001FFF
	TxDesc_TBS2 uint32 = 0x1FFF0000
)

// RX descriptor status word (RDES0).
const (
	RxDesc_OWN     uint32 = 0x80000000
	RxDesc_FL      uint32 = 0x3FFF0000
	RxDesc_FLShift        = 16
	RxDesc_ES      uint32 = 0x00008000
	RxDesc_FS      uint32 = 0x00000200
	RxDesc_LS      uint32 = 0x00000100
	RxDesc_CE      uint32 = 0x00000002

	// RDES1
	RxDesc_RER       uint32 = 0x00008000
	RxDesc_RBS2      uint32 = 0x1FFF0000
	RxDesc_RBS2Shift        = 16
)

// PHY registers. BCR and BSR are standard, the rest are LAN8720 specific.
const (
	PHY_BCR  uint16 = 0
	PHY_BSR  uint16 = 1
	PHY_ID1  uint16 = 2
	PHY_ID2  uint16 = 3
	PHY_ISR  uint16 = 29
	PHY_IMR  uint16 = 30
	PHY_SR   uint16 = 31
	PHY_NREG        = 32
)

const (
	PHY_BCR_RESET            uint16 = 0x8000
	PHY_BCR_LOOPBACK         uint16 = 0x4000
	PHY_BCR_100M             uint16 = 0x2000
	PHY_BCR_AUTONEGO         uint16 = 0x1000
	PHY_BCR_PWRDOWN          uint16 = 0x0800
	PHY_BCR_RESTART_AUTONEGO uint16 = 0x0200
	PHY_BCR_FULL_DUPLEX      uint16 = 0x0100

	PHY_BSR_AUTONEGO_COMPLETE uint16 = 0x0020
	PHY_BSR_LINK_UP           uint16 = 0x0004

	PHY_SR_10M  uint16 = 0x0004
	PHY_SR_100M uint16 = 0x0008
	PHY_SR_FD   uint16 = 0x0010

	PHY_INT_AUTONEGO_COMPLETE uint16 = 0x0040
	PHY_INT_LINK_DOWN         uint16 = 0x0010
)
