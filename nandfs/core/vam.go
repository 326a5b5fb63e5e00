package core

import "fmt"

// VAM Virtual Address Map: 物理页地址与虚拟页地址的双向单射。
// 虚拟地址由计数器单调发放, 页面搬迁后虚拟地址保持稳定。
type VAM struct {
	count                uint32
	physicalAddressTable map[uint32]uint32 // physical -> virtual
	virtualAddressTable  map[uint32]uint32 // virtual -> physical
}

func NewVAM() *VAM {
	return &VAM{
		physicalAddressTable: make(map[uint32]uint32),
		virtualAddressTable:  make(map[uint32]uint32),
	}
}

// GetAvailableAddress 发放size个连续虚拟地址, 返回首地址
func (v *VAM) GetAvailableAddress(size uint32) uint32 {
	res := v.count
	v.count += size
	return res
}

func (v *VAM) GetVirtualAddress(address uint32) (uint32, bool) {
	vAddress, ok := v.physicalAddressTable[address]
	return vAddress, ok
}

func (v *VAM) GetPhysicAddress(vAddress uint32) (uint32, bool) {
	address, ok := v.virtualAddressTable[vAddress]
	return address, ok
}

func (v *VAM) InsertMap(address uint32, vAddress uint32) {
	if _, ok := v.physicalAddressTable[address]; ok {
		panic(fmt.Sprintf("VAM: insert map has exist, physical %d", address))
	}
	if _, ok := v.virtualAddressTable[vAddress]; ok {
		panic(fmt.Sprintf("VAM: insert map has exist, virtual %d", vAddress))
	}
	v.physicalAddressTable[address] = vAddress
	v.virtualAddressTable[vAddress] = address
}

// UpdateMap 将既有虚拟地址重绑到新的物理地址(GC搬迁)
func (v *VAM) UpdateMap(address uint32, vAddress uint32) {
	oAddress, ok := v.virtualAddressTable[vAddress]
	if !ok {
		panic(fmt.Sprintf("VAM: update no that map, virtual %d", vAddress))
	}
	v.DeleteMap(oAddress, vAddress)
	v.InsertMap(address, vAddress)
}

func (v *VAM) DeleteMap(address uint32, vAddress uint32) {
	mapped, ok := v.physicalAddressTable[address]
	if !ok || mapped != vAddress {
		panic(fmt.Sprintf("VAM: delete no that map, physical %d virtual %d", address, vAddress))
	}
	delete(v.physicalAddressTable, address)
	delete(v.virtualAddressTable, vAddress)
}

func (v *VAM) Len() int {
	return len(v.physicalAddressTable)
}
